package media

import (
	"context"
	"fmt"

	"opsdec/internal/media/audiobookshelf"
	"opsdec/internal/media/emby"
	"opsdec/internal/media/jellyfin"
	"opsdec/internal/media/plex"
	"opsdec/internal/models"
)

// Adapter is the normalized view of one upstream media server. Vendor
// response shapes never leave the adapter packages.
type Adapter interface {
	Name() string
	Kind() models.ServerKind
	GetSessions(ctx context.Context) ([]models.UpstreamSession, error)
	TestConnection(ctx context.Context) error
}

func New(srv models.Server) (Adapter, error) {
	switch srv.Kind {
	case models.ServerKindPlex:
		return plex.New(srv), nil
	case models.ServerKindEmby:
		return emby.New(srv), nil
	case models.ServerKindJellyfin:
		return jellyfin.New(srv), nil
	case models.ServerKindAudiobookshelf:
		return audiobookshelf.New(srv), nil
	default:
		return nil, fmt.Errorf("unsupported server kind: %s", srv.Kind)
	}
}
