package jellyfin

import (
	"opsdec/internal/media/embybase"
	"opsdec/internal/models"
)

func New(srv models.Server) *embybase.Client {
	return embybase.New(srv, models.ServerKindJellyfin)
}
