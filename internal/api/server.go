// Package api provides the operational HTTP API: health, recent events,
// delivery stats and dead-letter administration.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/gorilla/mux"
)

// Service interfaces for dependency injection and testing

// EventReader lists recent ATH events.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]*models.ATHEvent, error)
}

// QueueAdmin exposes the delivery queue's administrative surface.
type QueueAdmin interface {
	ListFailed(ctx context.Context) ([]*models.DeadLetterRecord, error)
	RetryFailed(ctx context.Context, jobID string) error
	Depth(ctx context.Context) (int64, error)
}

// StatsReader aggregates archived delivery outcomes.
type StatsReader interface {
	Stats(ctx context.Context, since time.Time) ([]storage.DeliveryStats, error)
}

// Pinger is anything with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the operational HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	events     EventReader
	queue      QueueAdmin
	stats      StatsReader
	logger     *logging.Logger
	deps       map[string]Pinger
}

// ServerConfig holds the server's collaborators.
type ServerConfig struct {
	Host   string
	Port   string
	Events EventReader
	Queue  QueueAdmin
	Stats  StatsReader // optional, endpoint answers 503 without it
	Logger *logging.Logger
	// Deps maps dependency names to their health checks for /health.
	Deps map[string]Pinger
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Events == nil {
		return nil, fmt.Errorf("event reader is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue admin is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	}

	s := &Server{
		router: mux.NewRouter(),
		events: cfg.Events,
		queue:  cfg.Queue,
		stats:  cfg.Stats,
		logger: cfg.Logger,
		deps:   cfg.Deps,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet)
	v1.HandleFunc("/emails/failed", s.handleListFailed).Methods(http.MethodGet)
	v1.HandleFunc("/emails/failed/{id}/retry", s.handleRetryFailed).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
}

// Router returns the configured router, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
