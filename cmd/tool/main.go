package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/quezzio/lti-tool/internal/api/http"
	"github.com/quezzio/lti-tool/internal/config"
	"github.com/quezzio/lti-tool/internal/db"
	"github.com/quezzio/lti-tool/internal/lti"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := lti.NewSQLStore(dbh)

	// --- Components ---
	keys := &lti.KeyManager{Storage: store}
	replay := &lti.ReplayGuard{States: store, Nonces: store}
	validator := &lti.Validator{Platforms: store, Replay: replay}
	registry := &lti.Registry{
		Platforms: store,
		Keys:      keys,
		ServerURL: cfg.ServerURL,
		ToolName:  cfg.ToolName,
		LogoURL:   cfg.ToolLogoURL,
	}
	sessions := lti.NewSessionService(cfg.SessionSigningKey, cfg.SessionTTL)
	identities := &lti.IdentityRecords{Store: store}
	membership := &lti.MembershipClient{Keys: keys}
	deepLinks := &lti.DeepLinkSigner{Platforms: store, Keys: keys}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	r.Mount("/", (&api.API{
		Registry:      registry,
		Keys:          keys,
		Replay:        replay,
		Validator:     validator,
		Sessions:      sessions,
		Identities:    identities,
		Membership:    membership,
		DeepLinks:     deepLinks,
		UIURL:         cfg.UIURL,
		ToolName:      cfg.ToolName,
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
	}).Routes())

	// Background sweep of expired launch state and nonces.
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := store.PurgeExpired(sctx, time.Now().UTC()); err != nil {
				log.Printf("purge expired: %v", err)
			}
			scancel()
		}
	}()

	log.Printf("lti tool listening on %s (public %s)", cfg.HTTPAddr, cfg.ServerURL)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
