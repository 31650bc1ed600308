// Package api provides the HTTP surface of the archive: bearer-JWT
// authentication, content-negotiated mail and attachment reads, and the
// batch/streaming delivery feed.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kaimel/archiver/internal/config"
	"github.com/kaimel/archiver/internal/resource"
	"github.com/kaimel/archiver/internal/store"
)

// ArchiveStore defines the store operations the handlers need.
type ArchiveStore interface {
	MailForConsumer(ctx context.Context, consumerID int64, id string, projection store.MailProjection) (*store.Mail, []store.AttachmentMeta, error)
	MailExistsForConsumer(ctx context.Context, consumerID int64, id string) (bool, error)
	AttachmentForConsumer(ctx context.Context, consumerID int64, mailID string, number int) (store.AttachmentHandle, error)
	DeleteDispatch(ctx context.Context, consumerID int64, mailID string) (int64, error)
	ConsumerByID(ctx context.Context, id int64) (*store.Consumer, error)
}

// MailFeed defines the delivery engine operations behind GET /mail.
type MailFeed interface {
	Batch(ctx context.Context, consumerID int64, urls *resource.URLBuilder) ([]*resource.Mail, error)
	Stream(ctx context.Context, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       ArchiveStore
	feed        MailFeed
	secret      string
	baseURL     string
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, store ArchiveStore, feed MailFeed, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		feed:    feed,
		secret:  cfg.Auth.Secret,
		baseURL: cfg.Server.BaseURL,
		logger:  logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	// CORS middleware (config-driven; disabled when no origins configured)
	if len(s.cfg.Server.CORSOrigins) > 0 {
		corsConfig := CORSConfig{
			AllowedOrigins:   s.cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization"},
			AllowCredentials: s.cfg.Server.CORSCredentials,
			MaxAge:           s.cfg.Server.CORSMaxAge,
		}
		if corsConfig.MaxAge == 0 {
			corsConfig.MaxAge = 86400
		}
		r.Use(CORSMiddleware(corsConfig))
	}

	// Rate limiting by client IP
	if s.cfg.Server.RateLimitRPS > 0 {
		s.rateLimiter = NewRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst)
		r.Use(RateLimitMiddleware(s.rateLimiter))
	}

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// The group scopes authentication to routed paths: a request that
	// matches no route 404s without a challenge.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		// The feed's NDJSON mode is a long-lived stream; no timeout here.
		r.Get("/mail", s.handleFeed)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Get("/mail/{id}", s.handleGetMail)
			r.Delete("/mail/{id}", s.handleDeleteMail)
			r.Get("/mail/{id}/attachment/{number}", s.handleGetAttachment)
		})
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if no auth secret is configured.
func (s *Server) Start() error {
	if err := s.cfg.ValidateAuth(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Server.BindAddr, strconv.Itoa(s.cfg.Server.Port))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays 0: streaming feed responses are open-ended.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
