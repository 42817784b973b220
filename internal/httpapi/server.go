// Package httpapi serves the live status of a running job over HTTP so
// operators can inspect it without grepping logs: process states, the
// current stage, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elvischenv/srt-slurm/internal/orchestrator"
)

// Service defines what the HTTP layer needs from the running job.
type Service interface {
	Status() orchestrator.StatusSnapshot
}

// NewMux builds the status router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	// Dashboards poll this from other origins.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// Server runs the status API in the background for the lifetime of a
// run.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer binds the mux to addr.
func NewServer(addr string, svc Service, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewMux(svc),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in a goroutine. Listen errors are logged, not fatal: a
// job must not die because its status port is taken.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status API listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn().Err(err).Msg("status API stopped")
		}
	}()
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
		"code":  status,
	})
}
