// Package api exposes the cache over HTTP: entry operations, invalidation,
// statistics, health probes and the Prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratacache/stratacache/internal/analytics"
	"github.com/stratacache/stratacache/pkg/health"
	"github.com/stratacache/stratacache/pkg/types"
)

// Cache is the slice of the orchestrator the server exposes.
type Cache interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, pattern string, tags []string) (int, error)
	GetMetrics() types.CacheMetrics
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxValueSize int64         `yaml:"max_value_size"`
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxValueSize: 32 << 20,
	}
}

// Server is the HTTP front of the cache.
type Server struct {
	httpServer *http.Server
	cache      Cache
	recorder   *analytics.Analytics
	exporter   *analytics.Exporter
	tracker    *health.Tracker
	logger     *zap.Logger
	config     ServerConfig
}

// NewServer builds the server. recorder, exporter and tracker are optional;
// their endpoints return 404 when absent.
func NewServer(config ServerConfig, cache Cache, recorder *analytics.Analytics, exporter *analytics.Exporter, tracker *health.Tracker, logger *zap.Logger) *Server {
	if config.Address == "" {
		config = DefaultServerConfig()
	}
	if config.MaxValueSize <= 0 {
		config.MaxValueSize = 32 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cache:    cache,
		recorder: recorder,
		exporter: exporter,
		tracker:  tracker,
		logger:   logger,
		config:   config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/cache/", s.handleEntry)
	mux.HandleFunc("/invalidate", s.handleInvalidate)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	if exporter != nil {
		mux.Handle("/metrics", exporter.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("address", s.config.Address))
	return s.httpServer.ListenAndServe()
}

// StartBackground serves in a goroutine, logging any terminal error.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests within the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/cache/")
	if key == "" {
		http.Error(w, "missing cache key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, key)
	case http.MethodPut, http.MethodPost:
		s.handlePut(w, r, key)
	case http.MethodDelete:
		s.handleDelete(w, r, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	entry, err := s.cache.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if len(entry.Metadata.Tags) > 0 {
		w.Header().Set("X-Cache-Tags", strings.Join(entry.Metadata.Tags, ","))
	}
	_, _ = w.Write(entry.Value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	value, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxValueSize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(value)) > s.config.MaxValueSize {
		http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
		return
	}

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "malformed ttl", http.StatusBadRequest)
			return
		}
	}

	meta := types.EntryMetadata{Source: "api"}
	if raw := r.Header.Get("X-Cache-Tags"); raw != "" {
		meta.Tags = strings.Split(raw, ",")
	}

	if err := s.cache.Set(r.Context(), key, value, ttl, meta); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.cache.Delete(r.Context(), key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type invalidateRequest struct {
	Pattern string   `json:"pattern"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	removed, err := s.cache.Invalidate(r.Context(), req.Pattern, req.Tags)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]int{"removed": removed})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Metrics types.CacheMetrics `json:"metrics"`
		Report  *analytics.Report  `json:"report,omitempty"`
	}{Metrics: s.cache.GetMetrics()}
	if s.recorder != nil {
		report := s.recorder.Snapshot()
		response.Report = &report
	}
	s.writeJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		http.Error(w, "health tracking disabled", http.StatusNotFound)
		return
	}
	state := s.tracker.Overall()
	status := http.StatusOK
	if state == health.StateUnavailable {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		State      string                   `json:"state"`
		Components []health.ComponentHealth `json:"components"`
	}{
		State:      state.String(),
		Components: s.tracker.Components(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.tracker != nil && s.tracker.Overall() == health.StateUnavailable {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
