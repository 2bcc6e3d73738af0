// Package httpapi exposes the ingestion trigger, health, and metrics HTTP
// endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/forecast-inserter/internal/domain"
	"github.com/couchcryptid/forecast-inserter/internal/pipeline"
)

// Ingester runs the full download-parse-store flow for one file URL.
type Ingester interface {
	Ingest(ctx context.Context, url string) (domain.Outcome, error)
}

// Server exposes the insert trigger plus health and metrics routes.
type Server struct {
	httpServer *http.Server
	ingester   Ingester
	logger     *slog.Logger
}

type insertRequest struct {
	URL string `json:"url"`
}

type insertResponse struct {
	Status string `json:"status"`
	domain.Outcome
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewServer creates an HTTP server with /health, /insert, and /metrics routes.
func NewServer(addr string, ingester Ingester, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			// No write timeout: an insert holds the connection for the
			// whole download, which is bounded by the fetcher's own timeout.
			IdleTimeout: 60 * time.Second,
		},
		ingester: ingester,
		logger:   logger,
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /insert", s.handleInsert)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "url is required"})
		return
	}

	outcome, err := s.ingester.Ingest(r.Context(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) && stageErr.Stage != pipeline.StageStore {
			status = http.StatusBadRequest
		}
		s.logger.Error("insert failed", "url", req.URL, "status", status, "error", err)
		writeJSON(w, status, errorResponse{Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, insertResponse{Status: "ok", Outcome: outcome})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
