package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Route("/api", func(api chi.Router) {
		api.Use(limitBody)
		api.Use(jsonContentType)

		api.Get("/health", s.handleHealth)

		api.Route("/auth", func(r chi.Router) {
			r.Get("/setup-required", s.handleSetupRequired)
			r.With(s.rateLimitAuth).Post("/register", s.handleRegister)
			r.With(s.rateLimitAuth).Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)

			if s.oidc != nil && s.oidc.Enabled() {
				r.Get("/oidc/login", s.oidc.HandleLogin)
				r.Get("/oidc/callback", s.oidc.HandleCallback)
			}

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
				r.Put("/password", s.handleChangePassword)

				r.Route("/users", func(r chi.Router) {
					r.Use(s.requireAdmin)
					r.Get("/", s.handleListAuthUsers)
					r.Post("/", s.handleCreateAuthUser)
					r.Put("/{id}", s.handleUpdateAuthUser)
					r.Delete("/{id}", s.handleDeleteAuthUser)
				})
			})
		})

		api.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/activity", s.handleActivity)

			r.Get("/history", s.handleListHistory)
			r.Delete("/history/{id}", s.handleDeleteHistory)

			r.Get("/users", s.handleListMediaUsers)
			r.Get("/users/{id}", s.handleGetMediaUser)
			r.Put("/users/{id}", s.handleUpdateMediaUser)
			r.Get("/users/{id}/stats", s.handleMediaUserStats)

			r.Get("/stats/dashboard", s.handleDashboardStats)

			r.Get("/version", s.handleVersion)

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", s.handleListServers)
				r.Post("/", s.handleCreateServer)
				r.Get("/health", s.handleServersHealth)
				r.Put("/{id}", s.handleUpdateServer)
				r.Delete("/{id}", s.handleDeleteServer)
				r.Post("/{id}/test", s.handleTestServer)
			})

			r.Get("/proxy/image", s.handleImageProxy)

			r.Get("/settings", s.handleListSettings)
			r.Get("/settings/{key}", s.handleGetSetting)
			r.Put("/settings/{key}", s.handlePutSetting)

			r.With(s.requireAdmin).Post("/monitoring/restart", s.handleMonitoringRestart)
		})
	})

	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.version == nil {
		writeJSON(w, http.StatusOK, map[string]string{"version": "dev"})
		return
	}
	writeJSON(w, http.StatusOK, s.version.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
