// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.ObserveAnswer("SensorViewer", "AccessDenied", 10*time.Millisecond)
	m.ObserveAnswer("SensorViewer", "AccessDenied", 5*time.Millisecond)
	m.ObserveStage(StageExecute, time.Millisecond)
	m.StoreAttached("revenue")
	m.QueryRejected("DROP")
	m.QueryRejected("")
	m.AuditFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.answers.WithLabelValues("SensorViewer", "AccessDenied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attachments.WithLabelValues("revenue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("DROP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditFailures))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAnswer("r", "Ok", time.Second)
	m.StoreAttached("x")
	m.QueryRejected("DROP")
	m.AuditFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/schema/{role}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/schema/PlantDirector", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/v1/schema/{role}", "418")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "fedquery_http_requests_total"))
}

func TestUsageTracker(t *testing.T) {
	u := NewUsageTracker()
	u.Record("SensorViewer", "q1", "Ok", 10*time.Millisecond)
	u.Record("PlantDirector", "q2", "Empty", 30*time.Millisecond)
	u.Record("PlantDirector", strings.Repeat("long ", 50), "Ok", 20*time.Millisecond)

	s := u.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByRole["PlantDirector"])
	assert.Equal(t, 2, s.ByOutcome["Ok"])
	assert.Equal(t, 20*time.Millisecond, s.AvgDuration)
	require.Len(t, s.Slowest, 3)
	assert.Equal(t, "q2", s.Slowest[0].Question)
	assert.LessOrEqual(t, len([]rune(s.Slowest[1].Question)), 100)

	for i := 0; i < 10; i++ {
		u.Record("SensorViewer", "fast", "Ok", time.Microsecond)
	}
	assert.Len(t, u.Summary().Slowest, maxSlowQueries)
}

func TestUsageTracker_AuditFailures(t *testing.T) {
	u := NewUsageTracker()
	u.RecordAuditFailure()
	u.RecordAuditFailure()
	assert.Equal(t, 2, u.Summary().AuditFailures)

	var nilTracker *UsageTracker
	nilTracker.RecordAuditFailure()
}
