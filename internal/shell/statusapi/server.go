// Package statusapi exposes deployment state over HTTP: session history,
// batch results, and the recent event tail.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anchorwave/deployer/internal/core/domain"
	"github.com/anchorwave/deployer/internal/shell/events"
)

// SessionStore provides read access to deployment sessions.
// *retry.Controller satisfies it.
type SessionStore interface {
	History() []*domain.Session
	Session(id string) (*domain.Session, bool)
}

// =============================================================================
// Batch Registry
// =============================================================================

// Registry keeps finished batch results in memory, most recent first.
type Registry struct {
	mu      sync.RWMutex
	max     int
	batches []*domain.BatchResult
}

// DefaultRegistrySize bounds the retained batch results.
const DefaultRegistrySize = 50

// NewRegistry creates a registry retaining up to max results (0 uses the
// default).
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultRegistrySize
	}
	return &Registry{max: max}
}

// Add records a finished batch.
func (r *Registry) Add(b *domain.BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append([]*domain.BatchResult{b}, r.batches...)
	if len(r.batches) > r.max {
		r.batches = r.batches[:r.max]
	}
}

// List returns retained batches, most recent first.
func (r *Registry) List() []*domain.BatchResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.BatchResult, len(r.batches))
	copy(out, r.batches)
	return out
}

// Get returns the batch with the given ID.
func (r *Registry) Get(id string) (*domain.BatchResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.batches {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// =============================================================================
// Server
// =============================================================================

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8700"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server serves the status API.
type Server struct {
	cfg      Config
	sessions SessionStore
	batches  *Registry
	hub      *events.Hub
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New creates the server. batches and hub may be nil; their routes then
// return empty collections.
func New(cfg Config, sessions SessionStore, batches *Registry, hub *events.Hub, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		batches:  batches,
		hub:      hub,
		logger:   logger.With("component", "statusapi"),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the chi router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{id}", s.handleGetBatch)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Start runs the listener until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status api: %w", err)
	}
	s.logger.Info("status api stopped")
	return <-errCh
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.History()
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListBatches(w http.ResponseWriter, _ *http.Request) {
	batches := []*domain.BatchResult{}
	if s.batches != nil {
		batches = s.batches.List()
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.batches == nil {
		writeError(w, http.StatusNotFound, "batch %s not found", id)
		return
	}
	b, ok := s.batches.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "batch %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	tail := []events.Event{}
	if s.hub != nil {
		tail = s.hub.Tail()
	}
	writeJSON(w, http.StatusOK, tail)
}

// =============================================================================
// Responses
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
