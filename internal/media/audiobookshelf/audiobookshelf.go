package audiobookshelf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opsdec/internal/httputil"
	"opsdec/internal/models"
)

// pauseAfter is how long an open session may go without a position update
// before it is reported as paused. Audiobookshelf keeps sessions open but
// does not expose a pause flag; a stalled updatedAt is the only signal.
const pauseAfter = 60 * time.Second

type Server struct {
	serverName string
	url        string
	token      string
	client     *http.Client
	now        func() time.Time

	usernames map[string]string
}

func New(srv models.Server) *Server {
	return &Server{
		serverName: srv.Name,
		url:        strings.TrimRight(srv.URL, "/"),
		token:      srv.Credential,
		client:     httputil.NewClient(),
		now:        time.Now,
		usernames:  make(map[string]string),
	}
}

func (s *Server) Name() string            { return s.serverName }
func (s *Server) Kind() models.ServerKind { return models.ServerKindAudiobookshelf }

func (s *Server) TestConnection(ctx context.Context) error {
	resp, err := s.get(ctx, "/api/libraries")
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audiobookshelf returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) GetSessions(ctx context.Context) ([]models.UpstreamSession, error) {
	resp, err := s.get(ctx, "/api/sessions/open")
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audiobookshelf returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}

	sessions, unknownUsers, err := parseSessions(body, s.usernames, s.now())
	if err != nil {
		return nil, err
	}
	if unknownUsers {
		if err := s.refreshUsernames(ctx); err == nil {
			sessions, _, err = parseSessions(body, s.usernames, s.now())
			if err != nil {
				return nil, err
			}
		}
	}
	return sessions, nil
}

func (s *Server) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	return s.client.Do(req)
}

type openSessionsResponse struct {
	Sessions []absSession `json:"sessions"`
}

type absSession struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	LibraryItemID string  `json:"libraryItemId"`
	MediaType     string  `json:"mediaType"`
	DisplayTitle  string  `json:"displayTitle"`
	DisplayAuthor string  `json:"displayAuthor"`
	Duration      float64 `json:"duration"`
	CurrentTime   float64 `json:"currentTime"`
	UpdatedAt     int64   `json:"updatedAt"` // unix millis
}

func parseSessions(data []byte, usernames map[string]string, now time.Time) ([]models.UpstreamSession, bool, error) {
	var resp openSessionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("parsing sessions JSON: %w", err)
	}

	unknownUsers := false
	out := make([]models.UpstreamSession, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		userName, ok := usernames[s.UserID]
		if !ok {
			unknownUsers = true
			userName = s.UserID
		}

		state := models.StatePlaying
		if s.UpdatedAt > 0 && now.Sub(time.UnixMilli(s.UpdatedAt)) > pauseAfter {
			state = models.StatePaused
		}

		us := models.UpstreamSession{
			SessionKey:  s.ID,
			UserName:    userName,
			MediaKind:   mediaKind(s.MediaType),
			MediaID:     s.LibraryItemID,
			Title:       s.DisplayTitle,
			ParentTitle: s.DisplayAuthor,
			State:       state,
			CurrentTime: int64(s.CurrentTime),
			Duration:    int64(s.Duration),
		}
		if s.LibraryItemID != "" {
			us.ThumbURL = "/api/items/" + s.LibraryItemID + "/cover"
		}
		if us.Duration > 0 {
			us.ProgressPercent = float64(us.CurrentTime) / float64(us.Duration) * 100
		}
		out = append(out, us)
	}
	return out, unknownUsers, nil
}

func mediaKind(t string) models.MediaKind {
	switch t {
	case "book":
		return models.MediaKindAudiobook
	case "podcast":
		return models.MediaKindTrack
	default:
		return models.MediaKindAudiobook
	}
}

type usersResponse struct {
	Users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"users"`
}

func (s *Server) refreshUsernames(ctx context.Context) error {
	resp, err := s.get(ctx, "/api/users")
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audiobookshelf returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return err
	}
	var users usersResponse
	if err := json.Unmarshal(body, &users); err != nil {
		return fmt.Errorf("parsing users JSON: %w", err)
	}
	for _, u := range users.Users {
		s.usernames[u.ID] = u.Username
	}
	return nil
}
