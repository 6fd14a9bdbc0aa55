// Package server exposes the engine over HTTP: the search service (query,
// admin, health) and the ingest gateway (report submission). Both share the
// middleware chain and error mapping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/medsearch/medsearch/pkg/config"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/logger"
	"github.com/medsearch/medsearch/pkg/metrics"
	"github.com/medsearch/medsearch/pkg/middleware"
)

// Server wraps http.Server with graceful shutdown.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds a Server around handler with the standard middleware
// chain applied outermost-first: request ID, metrics, timeout.
func NewServer(cfg config.ServerConfig, handler http.Handler, m *metrics.Metrics) *Server {
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	if cfg.WriteTimeout > 0 {
		handler = middleware.Timeout(cfg.WriteTimeout)(handler)
	}
	handler = middleware.RequestID(handler)

	return &Server{
		http: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout is enforced by the timeout middleware so handlers
			// can still serve a 504 body.
		},
		logger: slog.Default().With("component", "http-server"),
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	reqID := logger.RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", reqID,
			"error", err,
		)
	}
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, status, errorBody{Error: msg, RequestID: reqID})
}
