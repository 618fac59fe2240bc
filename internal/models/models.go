package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type MediaKind string

const (
	MediaKindMovie     MediaKind = "movie"
	MediaKindEpisode   MediaKind = "episode"
	MediaKindTrack     MediaKind = "track"
	MediaKindAudiobook MediaKind = "audiobook"
	MediaKindBook      MediaKind = "book"
	MediaKindLiveTV    MediaKind = "livetv"
)

// IsAudio reports whether the kind is exempt from the history progress
// check. Audio content is routinely resumed far from its start.
func (k MediaKind) IsAudio() bool {
	switch k {
	case MediaKindTrack, MediaKindAudiobook, MediaKindBook:
		return true
	}
	return false
}

type ServerKind string

const (
	ServerKindPlex           ServerKind = "plex"
	ServerKindEmby           ServerKind = "emby"
	ServerKindJellyfin       ServerKind = "jellyfin"
	ServerKindAudiobookshelf ServerKind = "audiobookshelf"
)

func (k ServerKind) Valid() bool {
	switch k {
	case ServerKindPlex, ServerKindEmby, ServerKindJellyfin, ServerKindAudiobookshelf:
		return true
	}
	return false
}

type ServerOrigin string

const (
	OriginUser        ServerOrigin = "user"
	OriginEnvironment ServerOrigin = "environment"
)

// Server is one upstream media service. Credential holds the plaintext API
// token in memory only; the store encrypts it at rest and it is never
// serialized to clients.
type Server struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Kind       ServerKind   `json:"kind"`
	URL        string       `json:"url"`
	Credential string       `json:"-"`
	Enabled    bool         `json:"enabled"`
	Origin     ServerOrigin `json:"origin"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (s *Server) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if !s.Kind.Valid() {
		return errors.New("kind must be plex, emby, jellyfin, or audiobookshelf")
	}
	if s.URL == "" {
		return errors.New("url is required")
	}
	if s.Credential == "" {
		return errors.New("credential is required")
	}
	return nil
}

type ServerInput struct {
	Name       string     `json:"name"`
	Kind       ServerKind `json:"kind"`
	URL        string     `json:"url"`
	Credential string     `json:"credential"`
	Enabled    bool       `json:"enabled"`
}

func (si *ServerInput) ToServer() *Server {
	return &Server{
		Name:       si.Name,
		Kind:       si.Kind,
		URL:        si.URL,
		Credential: si.Credential,
		Enabled:    si.Enabled,
		Origin:     OriginUser,
	}
}

type SessionState string

const (
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// UpstreamSession is the normalized record an Adapter returns for one
// in-progress playback. Vendor-specific shapes live inside the adapters;
// the rest of the core sees only this.
type UpstreamSession struct {
	SessionKey      string
	UserName        string
	MediaKind       MediaKind
	MediaID         string
	Title           string
	ParentTitle     string
	GrandparentTitle string
	SeasonNumber    int
	EpisodeNumber   int
	Year            int
	ThumbURL        string
	State           SessionState
	ProgressPercent float64
	CurrentTime     int64 // seconds into the media
	Duration        int64 // seconds of full media
	IPAddress       string
}

// Session is the persisted lifecycle row for one (server, session_key)
// playback. All epoch fields are seconds.
type Session struct {
	ID               int64        `json:"id"`
	ServerID         int64        `json:"server_id"`
	SessionKey       string       `json:"session_key"`
	UserName         string       `json:"user_name"`
	MediaKind        MediaKind    `json:"media_kind"`
	MediaID          string       `json:"media_id"`
	Title            string       `json:"title"`
	ParentTitle      string       `json:"parent_title,omitempty"`
	GrandparentTitle string       `json:"grandparent_title,omitempty"`
	SeasonNumber     int          `json:"season_number,omitempty"`
	EpisodeNumber    int          `json:"episode_number,omitempty"`
	Year             int          `json:"year,omitempty"`
	ThumbURL         string       `json:"thumb_url,omitempty"`
	State            SessionState `json:"state"`
	ProgressPercent  float64      `json:"progress_percent"`
	CurrentTime      int64        `json:"current_time"`
	Duration         int64        `json:"duration"`
	StartedAt        int64        `json:"started_at"`
	UpdatedAt        int64        `json:"updated_at"`
	StoppedAt        *int64       `json:"stopped_at,omitempty"`
	PlaybackTime     int64        `json:"playback_time"`
	LastPositionUpdate *int64     `json:"-"`
	PausedCounter    int          `json:"paused_counter"`
	IPAddress        string       `json:"ip_address,omitempty"`
	GeoCity          string       `json:"geo_city,omitempty"`
	GeoCountry       string       `json:"geo_country,omitempty"`
	GeoLat           float64      `json:"geo_lat,omitempty"`
	GeoLng           float64      `json:"geo_lng,omitempty"`
}

// ActiveSession is the wire shape broadcast to push clients and returned by
// GET /activity. It carries the server display name alongside the session.
type ActiveSession struct {
	Session
	ServerName string     `json:"server_name"`
	ServerKind ServerKind `json:"server_kind"`
}

// HistoryRecord is the immutable post-mortem of a session that satisfied
// the recording policy. At most one exists per (session_id, media_id).
type HistoryRecord struct {
	ID               int64      `json:"id"`
	SessionID        int64      `json:"session_id"`
	ServerKind       ServerKind `json:"server_kind"`
	UserName         string     `json:"user_name"`
	MediaKind        MediaKind  `json:"media_kind"`
	MediaID          string     `json:"media_id"`
	Title            string     `json:"title"`
	ParentTitle      string     `json:"parent_title,omitempty"`
	GrandparentTitle string     `json:"grandparent_title,omitempty"`
	SeasonNumber     int        `json:"season_number,omitempty"`
	EpisodeNumber    int        `json:"episode_number,omitempty"`
	Year             int        `json:"year,omitempty"`
	ThumbURL         string     `json:"thumb_url,omitempty"`
	WatchedAt        int64      `json:"watched_at"`
	Duration         int64      `json:"duration"`
	PercentComplete  float64    `json:"percent_complete"`
	StreamDuration   int64      `json:"stream_duration"`
	IPAddress        string     `json:"ip_address,omitempty"`
	GeoCity          string     `json:"geo_city,omitempty"`
	GeoCountry       string     `json:"geo_country,omitempty"`
}

// MediaUser is an upstream viewer as seen across servers, keyed by
// (server_kind, user_name). Counters are maintained by history inserts.
type MediaUser struct {
	ID             int64      `json:"id"`
	ServerKind     ServerKind `json:"server_kind"`
	UserName       string     `json:"user_name"`
	ThumbURL       string     `json:"thumb_url,omitempty"`
	LastSeen       int64      `json:"last_seen"`
	HistoryEnabled bool       `json:"history_enabled"`
	TotalPlays     int64      `json:"total_plays"`
	TotalDuration  int64      `json:"total_duration"`
}

// AuthUser is a local operator account.
type AuthUser struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Email        string     `json:"email,omitempty"`
	IsAdmin      bool       `json:"is_admin"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// RefreshToken is a server-tracked long-lived credential. The ID is the
// opaque token itself.
type RefreshToken struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// ImageCacheEntry is one row of the content-addressed thumbnail cache.
// The row exists iff the backing file exists.
type ImageCacheEntry struct {
	URLHash        string
	OriginalURL    string
	FilePath       string
	ContentType    string
	FileSize       int64
	CreatedAt      int64
	LastAccessedAt int64
}

type GeoResult struct {
	IP      string  `json:"ip,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}
