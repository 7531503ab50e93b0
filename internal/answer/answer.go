// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package answer runs the request pipeline: build the role's federation,
// generate a query, gate it, execute it and classify the result.
package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/federation"
	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/outcome"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/telemetry"
)

// =============================================================================
// TYPES
// =============================================================================

// Auditor receives one event per request. *security.AuditLogger implements
// it.
type Auditor interface {
	Log(event security.AuditEvent) error
}

// Answer is the result of one request.
type Answer struct {
	ID       string          `json:"id"`
	Role     security.Role   `json:"role"`
	Question string          `json:"question,omitempty"`
	RawQuery string          `json:"raw_query,omitempty"`
	Query    string          `json:"query"`
	Outcome  outcome.Outcome `json:"outcome"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration_ns"`
}

// Message is the user-facing text for the outcome.
func (a *Answer) Message() string {
	return a.Outcome.Message(a.Role)
}

// Scope describes what a role can see.
type Scope struct {
	Role   security.Role `json:"role"`
	Grants []string      `json:"grants"`
	Stores []string      `json:"stores"`
	Schema string        `json:"schema"`
}

// =============================================================================
// SERVICE
// =============================================================================

// Service answers questions for roles. It is safe for concurrent use; every
// request gets its own federation.
type Service struct {
	builder  *federation.Builder
	gen      generator.Generator
	exec     *executor.Executor
	auditor  Auditor
	metrics  *telemetry.Metrics
	usage    *telemetry.UsageTracker
	logger   *zap.Logger
	rowLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithUsage sets the in-process usage tracker.
func WithUsage(u *telemetry.UsageTracker) Option {
	return func(s *Service) { s.usage = u }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRowLimit sets the row-limit hint passed to the generator.
func WithRowLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.rowLimit = n
		}
	}
}

// New creates a Service. gen may be nil when only Run is used.
func New(b *federation.Builder, gen generator.Generator, exec *executor.Executor, opts ...Option) *Service {
	s := &Service{
		builder:  b,
		gen:      gen,
		exec:     exec,
		logger:   zap.NewNop(),
		rowLimit: generator.DefaultRowLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the store catalog behind the service.
func (s *Service) Catalog() *catalog.Catalog {
	return s.builder.Catalog()
}

// Generator returns the configured generator, or nil.
func (s *Service) Generator() generator.Generator {
	return s.gen
}

// Usage returns the usage tracker, or nil.
func (s *Service) Usage() *telemetry.UsageTracker {
	return s.usage
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ErrNoGenerator is returned by Answer when the service has no generator.
var ErrNoGenerator = errors.New("no query generator configured")

// Answer turns a natural-language question into a query and runs it under
// role. Every failure after role validation is reported in the Outcome; the
// returned error is limited to an unknown role, a missing generator and
// caller cancellation.
func (s *Service) Answer(ctx context.Context, role security.Role, question string) (*Answer, error) {
	if s.gen == nil {
		return nil, ErrNoGenerator
	}
	return s.handle(ctx, role, question, "", true)
}

// Run executes caller-supplied SQL under role, skipping generation. The
// query still passes through Sanitize and Validate.
func (s *Service) Run(ctx context.Context, role security.Role, query string) (*Answer, error) {
	return s.handle(ctx, role, "", query, false)
}

// Describe reports the stores and schema visible to role.
func (s *Service) Describe(ctx context.Context, role security.Role) (*Scope, error) {
	fed, err := s.builder.Build(ctx, role)
	if err != nil {
		return nil, err
	}
	defer fed.Close()

	caps := fed.Grants().List()
	grants := make([]string, len(caps))
	for i, c := range caps {
		grants[i] = string(c)
	}
	return &Scope{
		Role:   role,
		Grants: grants,
		Stores: fed.Attached(),
		Schema: fed.Schema(),
	}, nil
}

// RoleInfo lists what a role may see, derived from the catalog and the
// grant table without opening a federation.
type RoleInfo struct {
	Role   string   `json:"role"`
	Grants []string `json:"grants"`
	Stores []string `json:"stores"`
}

// Roles describes every defined role in declaration order.
func (s *Service) Roles() []RoleInfo {
	stores := s.Catalog().ListStores()
	roles := security.Roles()
	out := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		grants := security.GrantsFor(role)
		info := RoleInfo{Role: role.String(), Grants: []string{}}
		for _, c := range grants.List() {
			info.Grants = append(info.Grants, string(c))
		}
		for _, st := range stores {
			if grants.Has(st.Capability) {
				info.Stores = append(info.Stores, st.Name)
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) handle(ctx context.Context, role security.Role, question, query string, generate bool) (*Answer, error) {
	if _, err := security.Resolve(role); err != nil {
		return nil, err
	}

	a := &Answer{
		ID:       uuid.NewString(),
		Role:     role,
		Question: question,
		RawQuery: query,
		Started:  time.Now(),
	}
	if err := s.process(ctx, a, generate); err != nil {
		s.logger.Warn("ANSWER_INTERRUPTED",
			zap.String("id", a.ID),
			zap.Stringer("role", role),
			zap.Error(err))
		return nil, err
	}
	a.Duration = time.Since(a.Started)
	s.record(a, generate)
	return a, nil
}

// process fills a.Query and a.Outcome. It returns an error only when the
// caller's context ends.
func (s *Service) process(ctx context.Context, a *Answer, generate bool) error {
	start := time.Now()
	fed, err := s.builder.Build(ctx, a.Role)
	s.metrics.ObserveStage(telemetry.StageBuild, time.Since(start))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("answer interrupted: %w", cerr)
		}
		a.Outcome = outcome.NewInternalError(err.Error())
		return nil
	}
	defer func() {
		if cerr := fed.Close(); cerr != nil {
			s.logger.Warn("FEDERATION_CLOSE_FAILED", zap.String("id", a.ID), zap.Error(cerr))
		}
	}()

	if generate {
		start = time.Now()
		raw, err := s.gen.Generate(ctx, generator.Request{
			Schema:   fed.Schema(),
			Question: a.Question,
			RowLimit: s.rowLimit,
		})
		s.metrics.ObserveStage(telemetry.StageGenerate, time.Since(start))
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("answer interrupted: %w", cerr)
			}
			a.Outcome = outcome.NewInternalError("query generation failed: " + err.Error())
			return nil
		}
		a.RawQuery = raw
	}

	a.Query = security.Sanitize(a.RawQuery)
	verdict := security.Validate(a.Query, fed.Grants())
	if verdict.Rejected() {
		s.metrics.QueryRejected(verdict.Keyword)
		s.logger.Warn("QUERY_REJECTED",
			zap.String("id", a.ID),
			zap.Stringer("role", a.Role),
			zap.String("reason", verdict.Reason))
		a.Outcome = outcome.NewRejected(verdict.Reason)
		return nil
	}

	start = time.Now()
	res, err := s.exec.Execute(ctx, a.Query, fed)
	s.metrics.ObserveStage(telemetry.StageExecute, time.Since(start))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("answer interrupted: %w", cerr)
		}
		a.Outcome = outcome.NewInternalError(err.Error())
		return nil
	}
	a.Outcome = outcome.Classify(res, fed.Grants(), s.builder.Catalog())
	return nil
}

// record reports a finished answer to metrics, usage, audit and the log.
func (s *Service) record(a *Answer, generated bool) {
	kind := a.Outcome.Kind.String()
	s.metrics.ObserveAnswer(a.Role.String(), kind, a.Duration)
	s.usage.Record(a.Role.String(), a.Question, kind, a.Duration)

	if s.auditor != nil {
		eventType := security.EventQuery
		switch {
		case a.Outcome.Kind == outcome.Rejected:
			eventType = security.EventRejected
		case generated:
			eventType = security.EventAnswer
		}
		err := s.auditor.Log(security.AuditEvent{
			Timestamp: a.Started,
			EventType: eventType,
			RequestID: a.ID,
			Role:      a.Role.String(),
			Question:  a.Question,
			Query:     a.Query,
			Outcome:   kind,
			Detail:    a.Outcome.Summary(),
			Rows:      len(a.Outcome.Rows),
			Duration:  a.Duration,
		})
		if err != nil {
			s.logger.Warn("AUDIT_WRITE_FAILED", zap.String("id", a.ID), zap.Error(err))
		}
	}

	s.logger.Info("ANSWER_COMPLETE",
		zap.String("id", a.ID),
		zap.Stringer("role", a.Role),
		zap.Stringer("outcome", a.Outcome),
		zap.Duration("duration", a.Duration))
}
