package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"opsdec/internal/auth"
	"opsdec/internal/engine"
	"opsdec/internal/geoip"
	"opsdec/internal/imagecache"
	"opsdec/internal/push"
	"opsdec/internal/store"
	"opsdec/internal/version"
)

type Server struct {
	router      chi.Router
	store       *store.Store
	auth        *auth.Service
	oidc        *auth.OIDCProvider
	engine      *engine.Engine
	cache       *imagecache.Cache
	hub         *push.Hub
	geoResolver *geoip.Resolver
	version     *version.Checker

	client       *http.Client
	authLimiter  *authRateLimiter
	proxyLimiter *rate.Limiter
}

type Option func(*Server)

func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

func WithOIDC(p *auth.OIDCProvider) Option {
	return func(s *Server) { s.oidc = p }
}

func WithEngine(e *engine.Engine) Option {
	return func(s *Server) { s.engine = e }
}

func WithImageCache(c *imagecache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

func WithHub(h *push.Hub) Option {
	return func(s *Server) { s.hub = h }
}

func WithGeoResolver(r *geoip.Resolver) Option {
	return func(s *Server) { s.geoResolver = r }
}

func WithVersionChecker(c *version.Checker) Option {
	return func(s *Server) { s.version = c }
}

func NewServer(st *store.Store, opts ...Option) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		store:        st,
		client:       &http.Client{Timeout: 15 * time.Second},
		authLimiter:  newAuthRateLimiter(10, 15*time.Minute),
		proxyLimiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.authLimiter.Stop()
}
