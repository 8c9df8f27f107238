package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deployer runs the deployment pipeline for one delivery. Implementations
// must not let any failure escape: the server answers every delivery the same way.
type Deployer interface {
	Deploy(ctx context.Context, req *Request)
}

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	deployer Deployer
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new webhook server instance.
func New(config Config, deployer Deployer, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}
	if config.Path == "" {
		config.Path = defaultPath
	}

	return &Server{
		config:   config,
		deployer: deployer,
		logger:   logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the response is written after the deploy finishes.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	// Every method is routed to the pipeline; the method check is part of
	// authentication and must show up in the deploy log.
	r.HandleFunc(s.config.Path, s.handleWebhook)

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Log request (no body content for security)
		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"delivery", r.Header.Get(HeaderDelivery),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook runs the pipeline and answers 200 with an empty body,
// whatever the outcome.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	req, err := ReadRequest(r, s.config.MaxBodySize)
	if err != nil {
		// The pipeline rejects the missing body as a malformed payload.
		s.logger.Warn("webhook body not accepted",
			"path", r.URL.Path,
			"limit", s.config.MaxBodySize,
			"error", err,
		)
		req.Body = nil
	}

	// A client hanging up must not cut a deploy short.
	ctx := context.WithoutCancel(r.Context())
	s.deployer.Deploy(ctx, req)

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
