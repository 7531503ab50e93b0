// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics and in-process usage
// tracking for answers.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage names.
const (
	StageBuild    = "build"
	StageGenerate = "generate"
	StageExecute  = "execute"
)

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	answers         *prometheus.CounterVec
	answerDuration  *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	attachments     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	auditFailures   prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedquery_answers_total",
			Help: "Answers by role and outcome kind.",
		}, []string{"role", "outcome"}),
		answerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fedquery_answer_duration_seconds",
			Help:    "End-to-end answer latency by role.",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fedquery_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedquery_attachments_total",
			Help: "Stores attached to request federations.",
		}, []string{"store"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedquery_rejections_total",
			Help: "Queries refused by the safety gate, by keyword.",
		}, []string{"keyword"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fedquery_audit_failures_total",
			Help: "Audit log writes that failed.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedquery_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fedquery_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	registry.MustRegister(m.answers, m.answerDuration, m.stageDuration, m.attachments,
		m.rejections, m.auditFailures, m.requestsTotal, m.requestDuration)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAnswer records one finished answer.
func (m *Metrics) ObserveAnswer(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(role, outcome).Inc()
	m.answerDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ObserveStage records the latency of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StoreAttached counts an ATTACH of store.
func (m *Metrics) StoreAttached(store string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(store).Inc()
}

// QueryRejected counts a gate refusal. keyword is empty for non-keyword
// refusals.
func (m *Metrics) QueryRejected(keyword string) {
	if m == nil {
		return
	}
	if keyword == "" {
		keyword = "none"
	}
	m.rejections.WithLabelValues(keyword).Inc()
}

// AuditFailed counts a failed audit write.
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// Middleware records HTTP request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
