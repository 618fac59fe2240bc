package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"opsdec/internal/auth"
	"opsdec/internal/crypto"
	"opsdec/internal/engine"
	"opsdec/internal/geoip"
	"opsdec/internal/imagecache"
	"opsdec/internal/jobs"
	"opsdec/internal/models"
	"opsdec/internal/push"
	"opsdec/internal/server"
	"opsdec/internal/store"
	"opsdec/internal/version"
)

// Version is stamped by the build.
var Version = "dev"

func main() {
	dataDir := envOr("DATA_DIR", "./data")
	dbPath := filepath.Join(dataDir, "opsdec.db")
	listenAddr := envOr("LISTEN_ADDR", ":8585")
	migrationsDir := envOr("MIGRATIONS_DIR", "./migrations")

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("TOKEN_SECRET is required")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		enc, err := crypto.NewEncryptorFromPassphrase(key)
		if err != nil {
			log.Fatalf("initializing encryption: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	} else {
		log.Println("ENCRYPTION_KEY not set — server credentials stored in plaintext")
	}

	st, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	if err := bootstrapServers(st); err != nil {
		log.Fatalf("provisioning servers from environment: %v", err)
	}

	geoResolver := geoip.NewResolver(os.Getenv("GEOIP_DB"))
	defer geoResolver.Close()

	minter, err := auth.NewTokenMinter(tokenSecret)
	if err != nil {
		log.Fatalf("initializing tokens: %v", err)
	}
	authSvc := auth.NewService(st, minter)

	oidcProvider, err := auth.NewOIDCProvider(context.Background(), auth.OIDCConfig{
		Issuer:       os.Getenv("OIDC_ISSUER"),
		ClientID:     os.Getenv("OIDC_CLIENT_ID"),
		ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
	}, authSvc)
	if err != nil {
		log.Fatalf("initializing OIDC: %v", err)
	}
	if oidcProvider.Enabled() {
		log.Println("OIDC login enabled")
	}

	cache, err := imagecache.New(filepath.Join(dataDir, "images"), st)
	if err != nil {
		log.Fatalf("initializing image cache: %v", err)
	}

	hub := push.NewHub(func(token string) error {
		_, err := authSvc.VerifyAccess(token)
		return err
	})

	engineOpts := []engine.Option{
		engine.WithBroadcaster(hub),
		engine.WithGeoResolver(geoResolver),
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			engineOpts = append(engineOpts, engine.WithInterval(d))
		} else {
			log.Printf("ignoring invalid POLL_INTERVAL %q", v)
		}
	}
	eng := engine.New(st, engineOpts...)
	if err := eng.Reload(); err != nil {
		log.Fatalf("loading monitored servers: %v", err)
	}

	runner := jobs.New(st, cache)
	versionChecker := version.NewChecker(Version)

	srv := server.NewServer(st,
		server.WithAuth(authSvc),
		server.WithOIDC(oidcProvider),
		server.WithEngine(eng),
		server.WithImageCache(cache),
		server.WithHub(hub),
		server.WithGeoResolver(geoResolver),
		server.WithVersionChecker(versionChecker),
	)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	runner.Start(ctx)
	go versionChecker.Start(ctx)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("OpsDec listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	hub.Shutdown()
	eng.Stop()
	runner.Stop()
	if err := st.Checkpoint(); err != nil {
		log.Printf("final checkpoint: %v", err)
	}
}

// bootstrapServers provisions media servers declared in the SERVERS env var,
// a JSON array of {name, kind, url, credential, enabled}. Rows it creates are
// marked environment-origin and are read-only through the API.
func bootstrapServers(st *store.Store) error {
	raw := os.Getenv("SERVERS")
	if raw == "" {
		return nil
	}

	var inputs []models.ServerInput
	if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
		return err
	}
	for _, in := range inputs {
		srv := in.ToServer()
		srv.Origin = models.OriginEnvironment
		if err := srv.Validate(); err != nil {
			return err
		}
		if err := st.UpsertEnvironmentServer(srv); err != nil {
			return err
		}
		log.Printf("provisioned %s server %q from environment", srv.Kind, srv.Name)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
