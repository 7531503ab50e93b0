// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the answer pipeline over HTTP.
//
// Endpoints:
//   - POST /v1/answer        - answer a question under a role
//   - POST /v1/query         - run caller-supplied SQL under a role
//   - GET  /v1/roles         - roles with their grants and stores
//   - GET  /v1/schema/{role} - schema visible to a role
//   - GET  /v1/stats         - in-process usage statistics
//   - GET  /health           - health check
//   - GET  /metrics          - Prometheus metrics
//
// Every outcome of a well-formed request, including AccessDenied and
// Rejected, is a 200 with the outcome kind in the body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr binds to loopback only.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxQuestionLength bounds questions and SQL text, in bytes.
	MaxQuestionLength = 8000

	defaultShutdownTimeout = 10 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server.
type Options struct {
	Addr string
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
	// RateLimit is requests per minute per client IP on /v1 routes; 0
	// disables.
	RateLimit       int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string
	Logger          *zap.Logger
	Metrics         *telemetry.Metrics
	// Health, when set, is called by /health. A failure reports "degraded".
	Health func(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	svc      *answer.Service
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
	handler  http.Handler
}

// New creates a Server for svc.
func New(svc *answer.Service, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		svc:      svc,
		opts:     opts,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware())
	r.Use(LoggingMiddleware(s.logger))
	r.Use(s.opts.Metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.opts.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(httprate.Limit(s.opts.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Use(AuthMiddleware(s.opts.Token, s.logger))

		r.Post("/answer", s.handleAnswer)
		r.Post("/query", s.handleQuery)
		r.Get("/roles", s.handleRoles)
		r.Get("/schema/{role}", s.handleSchema)
		r.Get("/stats", s.handleStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Run listens on the configured address and serves until ctx is done.
// Offline mode refuses non-loopback addresses.
func (s *Server) Run(ctx context.Context) error {
	if err := offline.ValidateListenAddr(s.opts.Addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("SERVER_START",
			zap.String("addr", ln.Addr().String()),
			zap.String("version", s.opts.Version),
			zap.Bool("auth", s.opts.Token != ""))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("SERVER_SHUTDOWN")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// AnswerRequest is the body of POST /v1/answer.
type AnswerRequest struct {
	Role     string `json:"role" validate:"required"`
	Question string `json:"question" validate:"required,max=8000"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Role string `json:"role" validate:"required"`
	SQL  string `json:"sql" validate:"required,max=8000"`
}

// AnswerResponse wraps an answer with its rendered message.
type AnswerResponse struct {
	*answer.Answer
	Message    string `json:"message"`
	DurationMS int64  `json:"duration_ms"`
}

// RoleInfo describes one role for GET /v1/roles.
type RoleInfo = answer.RoleInfo

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Stores    int    `json:"stores"`
	Generator string `json:"generator"`
	Error     string `json:"error,omitempty"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	a, err := s.svc.Answer(r.Context(), role, req.Question)
	s.respondAnswer(w, a, err)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	a, err := s.svc.Run(r.Context(), role, req.SQL)
	s.respondAnswer(w, a, err)
}

func (s *Server) respondAnswer(w http.ResponseWriter, a *answer.Answer, err error) {
	switch {
	case errors.Is(err, answer.ErrNoGenerator):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, security.ErrUnknownRole):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing useful to send.
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	case err != nil:
		s.logger.Error("ANSWER_FAILED", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusOK, AnswerResponse{
			Answer:     a,
			Message:    a.Message(),
			DurationMS: a.Duration.Milliseconds(),
		})
	}
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Roles())
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	role, ok := parseRole(w, chi.URLParam(r, "role"))
	if !ok {
		return
	}
	scope, err := s.svc.Describe(r.Context(), role)
	if err != nil {
		s.logger.Error("SCHEMA_FAILED", zap.Stringer("role", role), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scope)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	usage := s.svc.Usage()
	if usage == nil {
		writeError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, usage.Summary())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Stores:    len(s.svc.Catalog().ListStores()),
		Generator: "none",
	}
	if g := s.svc.Generator(); g != nil {
		health.Generator = g.Name()
	}
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			health.Status = "degraded"
			health.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a size-limited JSON body into dst and validates it. It
// writes the error response and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, fmt.Sprintf("field '%s' failed '%s' validation", fe.Field(), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func parseRole(w http.ResponseWriter, name string) (security.Role, bool) {
	role, err := security.ParseRole(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return role, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}
