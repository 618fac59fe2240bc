// Package embybase holds the session client shared by the Emby and Jellyfin
// adapters; the two servers speak the same API.
package embybase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"opsdec/internal/httputil"
	"opsdec/internal/models"
)

const ticksPerSecond = 10_000_000

type Client struct {
	serverName string
	serverKind models.ServerKind
	url        string
	apiKey     string
	client     *http.Client
}

func New(srv models.Server, kind models.ServerKind) *Client {
	return &Client{
		serverName: srv.Name,
		serverKind: kind,
		url:        strings.TrimRight(srv.URL, "/"),
		apiKey:     srv.Credential,
		client:     httputil.NewClient(),
	}
}

func (c *Client) Name() string            { return c.serverName }
func (c *Client) Kind() models.ServerKind { return c.serverKind }

func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/System/Info/Public", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(c.addAuth(req))
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", c.serverKind, resp.StatusCode)
	}
	return nil
}

func (c *Client) GetSessions(ctx context.Context) ([]models.UpstreamSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/Sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(c.addAuth(req))
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", c.serverKind, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}
	return ParseSessions(body, c.serverKind)
}

func (c *Client) addAuth(req *http.Request) *http.Request {
	req.Header.Set("X-Emby-Token", c.apiKey)
	return req
}

type embySession struct {
	ID         string      `json:"Id"`
	UserName   string      `json:"UserName"`
	RemoteIP   string      `json:"RemoteEndPoint"`
	NowPlaying *nowPlaying `json:"NowPlayingItem"`
	PlayState  *playState  `json:"PlayState"`
}

type nowPlaying struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	SeriesName        string            `json:"SeriesName"`
	SeasonName        string            `json:"SeasonName"`
	ParentIndexNumber int               `json:"ParentIndexNumber"`
	IndexNumber       int               `json:"IndexNumber"`
	Type              string            `json:"Type"`
	ProductionYear    int               `json:"ProductionYear"`
	RunTimeTicks      int64             `json:"RunTimeTicks"`
	ImageTags         map[string]string `json:"ImageTags"`
}

type playState struct {
	PositionTicks int64 `json:"PositionTicks"`
	IsPaused      bool  `json:"IsPaused"`
}

// ParseSessions converts a /Sessions response body into normalized records.
// Sessions without a NowPlayingItem are idle connections and are skipped.
func ParseSessions(data []byte, kind models.ServerKind) ([]models.UpstreamSession, error) {
	var sessions []embySession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parsing sessions JSON: %w", err)
	}

	var out []models.UpstreamSession
	for _, s := range sessions {
		if s.NowPlaying == nil {
			continue
		}

		us := models.UpstreamSession{
			SessionKey:       s.ID,
			UserName:         s.UserName,
			MediaKind:        mediaKind(s.NowPlaying.Type),
			MediaID:          s.NowPlaying.ID,
			Title:            s.NowPlaying.Name,
			ParentTitle:      s.NowPlaying.SeasonName,
			GrandparentTitle: s.NowPlaying.SeriesName,
			SeasonNumber:     s.NowPlaying.ParentIndexNumber,
			EpisodeNumber:    s.NowPlaying.IndexNumber,
			Year:             s.NowPlaying.ProductionYear,
			State:            models.StatePlaying,
			Duration:         s.NowPlaying.RunTimeTicks / ticksPerSecond,
			IPAddress:        s.RemoteIP,
		}
		if s.PlayState != nil {
			us.CurrentTime = s.PlayState.PositionTicks / ticksPerSecond
			if s.PlayState.IsPaused {
				us.State = models.StatePaused
			}
		}
		if us.Duration > 0 {
			us.ProgressPercent = float64(us.CurrentTime) / float64(us.Duration) * 100
		}
		if s.NowPlaying.ImageTags["Primary"] != "" {
			us.ThumbURL = fmt.Sprintf("/Items/%s/Images/Primary?tag=%s",
				s.NowPlaying.ID, s.NowPlaying.ImageTags["Primary"])
		}
		out = append(out, us)
	}
	return out, nil
}

func mediaKind(t string) models.MediaKind {
	switch t {
	case "Movie", "MusicVideo", "Video":
		return models.MediaKindMovie
	case "Episode":
		return models.MediaKindEpisode
	case "Audio":
		return models.MediaKindTrack
	case "AudioBook":
		return models.MediaKindAudiobook
	case "Book":
		return models.MediaKindBook
	case "TvChannel":
		return models.MediaKindLiveTV
	default:
		return models.MediaKind(strings.ToLower(t))
	}
}
