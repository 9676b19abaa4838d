package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/audit"
	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/ehr/demo"
	"github.com/clinscribe/platform/internal/ehr/openmrs"
	"github.com/clinscribe/platform/internal/extract"
	"github.com/clinscribe/platform/internal/relay"
	"github.com/clinscribe/platform/internal/scribe"
	"github.com/clinscribe/platform/internal/session"
	"github.com/clinscribe/platform/internal/shared/config"
	"github.com/clinscribe/platform/internal/shared/database"
	"github.com/clinscribe/platform/internal/shared/logging"
	"github.com/clinscribe/platform/internal/shared/metrics"
	secmiddleware "github.com/clinscribe/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *database.DB
	Connector ehr.Connector
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Server.Env)
	app := &App{Config: cfg, Log: log}

	// Database is optional: without it the audit trail falls back to
	// memory and is lost on restart.
	var auditRepo audit.Repository
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, audit trail will not persist")
		auditRepo = audit.NewMemoryRepository()
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		auditRepo = audit.NewPostgresRepository(db.Pool)
	}
	if err := auditRepo.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("audit repository initialization failed")
	}

	connector, err := buildConnector(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("EHR connector configuration invalid")
	}
	app.Connector = connector

	var extractClient *extract.Client
	if cfg.Extract.Enabled {
		if cfg.Extract.APIKey == "" {
			log.Warn().Msg("extraction enabled but no API key configured, disabling")
		} else {
			extractClient = extract.New(cfg.Extract, log)
			log.Info().Str("model", cfg.Extract.Model).Msg("note structuring enabled")
		}
	}

	sessionManager := session.NewManager(session.Config{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.Auth.SessionTTL,
	}, log)
	sessionHandler := session.NewHandler(sessionManager, auditRepo)

	scribeService := scribe.NewService(connector, cfg.EHR.Backend, auditRepo, log)
	scribeHandler := scribe.NewHandler(scribeService, extractClient)
	auditHandler := audit.NewHandler(auditRepo)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	// Relay mount: browser clients talk to the EHR backend through this
	// path to sidestep its missing CORS headers.
	if cfg.Relay.Enabled && cfg.Relay.Upstream != "" {
		limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		relayHandler := relay.New(cfg.Relay.Upstream, cfg.Relay.Prefix, cfg.Relay.Timeout, log)
		r.Handle(cfg.Relay.Prefix, limiter.Middleware(relayHandler))
		r.Handle(cfg.Relay.Prefix+"/*", limiter.Middleware(relayHandler))
		log.Info().Str("prefix", cfg.Relay.Prefix).Str("upstream", cfg.Relay.Upstream).Msg("relay enabled")
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/sessions", sessionHandler.Routes())

		r.Group(func(r chi.Router) {
			// Session tokens are enforced outside development
			if cfg.Server.Env == "production" {
				r.Use(sessionHandler.Middleware)
			}

			r.Mount("/", scribeHandler.Routes())
			r.Mount("/audit", auditHandler.Routes())
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// The connector may dial back through the relay mount above, so
	// the listener must accept connections before it initializes.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind listener")
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("backend", cfg.EHR.Backend).
		Bool("relay", cfg.Relay.Enabled).
		Msg("scribe server starting")

	initCtx, initCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = connector.Initialize(initCtx)
	initCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("EHR connector initialization failed")
	}
	log.Info().Str("backend_display", connector.Metadata().DisplayName).Msg("EHR connector ready")

	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("server stopped")
}

// buildConnector selects the configured EHR backend. The connector is
// constructed un-initialized: Initialize runs after the HTTP listener
// starts, because metadata lookups may route through the local relay
// mount.
func buildConnector(cfg *config.Config, log zerolog.Logger) (ehr.Connector, error) {
	switch cfg.EHR.Backend {
	case "demo", "":
		return demo.New(log), nil

	case "openmrs":
		baseURL := cfg.EHR.BaseURL
		if cfg.EHR.UseRelay {
			// Backend calls go through the local relay mount so the
			// browser and server share one path to the backend.
			baseURL = fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, cfg.EHR.RelayPrefix)
		}

		return openmrs.New(openmrs.Config{
			BaseURL:           baseURL,
			Username:          cfg.EHR.Username,
			Password:          cfg.EHR.Password,
			EncounterTypeUUID: cfg.EHR.EncounterTypeUUID,
			LocationUUID:      cfg.EHR.LocationUUID,
			VisitTypeUUID:     cfg.EHR.VisitTypeUUID,
			NotesConceptUUID:  cfg.EHR.NotesConceptUUID,
		}, log)

	default:
		return nil, fmt.Errorf("unknown EHR backend %q", cfg.EHR.Backend)
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "ClinScribe Voice Transcription Backend",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		meta := app.Connector.Metadata()
		checks["ehr"] = "ready (" + meta.DisplayName + ")"

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" && !strings.HasPrefix(status, "ready (") {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
