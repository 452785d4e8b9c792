// Package server provides the HTTP debug and health surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lumenrwa/pricefeed/internal/cache"
	"github.com/lumenrwa/pricefeed/internal/history"
	"github.com/lumenrwa/pricefeed/internal/metrics"
)

// Config holds server configuration.
type Config struct {
	Port      int
	Log       zerolog.Logger
	LastValue *cache.LastValue
	History   *history.Store // may be nil
	Metrics   *metrics.Registry
}

// Server exposes health, metrics, and the last-value debug snapshot.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	lastValue *cache.LastValue
	history   *history.Store
	startedAt time.Time
}

// New creates the HTTP server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		lastValue: cfg.LastValue,
		history:   cfg.History,
		startedAt: time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	s.router.Get("/healthz", s.handleHealth)
	if cfg.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	s.router.Route("/api/debug", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/history/{symbol}", s.handleHistory)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}

	// Process stats are best-effort; the endpoint stays healthy even
	// when they cannot be read.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			health["rss_bytes"] = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			health["cpu_percent"] = cpu
		}
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lastValue.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history store not configured"})
		return
	}

	symbol := chi.URLParam(r, "symbol")
	series, err := s.history.Series(r.Context(), symbol, 100)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to read history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read history"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"series": series,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
