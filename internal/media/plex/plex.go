package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"opsdec/internal/httputil"
	"opsdec/internal/models"
)

type Server struct {
	serverName string
	url        string
	token      string
	client     *http.Client
}

func New(srv models.Server) *Server {
	return &Server{
		serverName: srv.Name,
		url:        strings.TrimRight(srv.URL, "/"),
		token:      srv.Credential,
		client:     httputil.NewClient(),
	}
}

func (s *Server) Name() string            { return s.serverName }
func (s *Server) Kind() models.ServerKind { return models.ServerKindPlex }

func (s *Server) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/identity", nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) GetSessions(ctx context.Context) ([]models.UpstreamSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/status/sessions", nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}
	return ParseSessions(body)
}

func (s *Server) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", s.token)
	req.Header.Set("Accept", "application/xml")
}

type mediaContainer struct {
	XMLName xml.Name   `xml:"MediaContainer"`
	Videos  []plexItem `xml:"Video"`
	Tracks  []plexItem `xml:"Track"`
}

type plexItem struct {
	SessionKey       string  `xml:"sessionKey,attr"`
	RatingKey        string  `xml:"ratingKey,attr"`
	Type             string  `xml:"type,attr"`
	Title            string  `xml:"title,attr"`
	ParentTitle      string  `xml:"parentTitle,attr"`
	GrandparentTitle string  `xml:"grandparentTitle,attr"`
	ParentIndex      string  `xml:"parentIndex,attr"`
	Index            string  `xml:"index,attr"`
	Year             string  `xml:"year,attr"`
	Duration         string  `xml:"duration,attr"`
	ViewOffset       string  `xml:"viewOffset,attr"`
	Thumb            string  `xml:"thumb,attr"`
	Live             string  `xml:"live,attr"`
	Player           player  `xml:"Player"`
	Session          session `xml:"Session"`
	User             user    `xml:"User"`
}

type player struct {
	State   string `xml:"state,attr"`
	Address string `xml:"address,attr"`
}

type session struct {
	ID string `xml:"id,attr"`
}

type user struct {
	Title string `xml:"title,attr"`
}

// ParseSessions converts a /status/sessions XML body into normalized records.
func ParseSessions(data []byte) ([]models.UpstreamSession, error) {
	var mc mediaContainer
	if err := xml.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("parsing plex XML: %w", err)
	}

	items := make([]plexItem, 0, len(mc.Videos)+len(mc.Tracks))
	items = append(items, mc.Videos...)
	items = append(items, mc.Tracks...)

	out := make([]models.UpstreamSession, 0, len(items))
	for _, item := range items {
		us := models.UpstreamSession{
			SessionKey:       sessionKey(item),
			UserName:         item.User.Title,
			MediaKind:        mediaKind(item),
			MediaID:          item.RatingKey,
			Title:            item.Title,
			ParentTitle:      item.ParentTitle,
			GrandparentTitle: item.GrandparentTitle,
			SeasonNumber:     atoi(item.ParentIndex),
			EpisodeNumber:    atoi(item.Index),
			Year:             atoi(item.Year),
			ThumbURL:         item.Thumb,
			State:            playerState(item.Player.State),
			CurrentTime:      atoi64(item.ViewOffset) / 1000,
			Duration:         atoi64(item.Duration) / 1000,
			IPAddress:        item.Player.Address,
		}
		if us.Duration > 0 {
			us.ProgressPercent = float64(us.CurrentTime) / float64(us.Duration) * 100
		}
		out = append(out, us)
	}
	return out, nil
}

// playerState maps Plex player states onto the session state machine.
// "buffering" counts as playing: the clock is running from the user's view.
func playerState(state string) models.SessionState {
	switch state {
	case "paused":
		return models.StatePaused
	case "stopped":
		return models.StateStopped
	default:
		return models.StatePlaying
	}
}

func mediaKind(item plexItem) models.MediaKind {
	if item.Live == "1" {
		return models.MediaKindLiveTV
	}
	switch item.Type {
	case "movie":
		return models.MediaKindMovie
	case "episode":
		return models.MediaKindEpisode
	case "track":
		return models.MediaKindTrack
	default:
		return models.MediaKind(item.Type)
	}
}

// sessionKey prefers the stable Session id; older servers only set
// sessionKey, which Plex recycles.
func sessionKey(item plexItem) string {
	if item.Session.ID != "" {
		return item.Session.ID
	}
	return item.SessionKey
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
