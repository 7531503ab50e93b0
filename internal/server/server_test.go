// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/federation"
	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/seed"
	"github.com/jeranaias/fedquery/internal/telemetry"
)

func TestMain(m *testing.M) {
	// The genai client's dependencies start an opencensus worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// =============================================================================
// FIXTURES
// =============================================================================

func newService(t *testing.T, gen generator.Generator) *answer.Service {
	t.Helper()
	dir := t.TempDir()
	_, err := seed.Generate(context.Background(), seed.Options{
		Dir:   dir,
		Sizes: seed.SmallSizes(),
		Seed:  3,
		Now:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	c, err := catalog.Load(context.Background(), catalog.DefaultSpecs(dir))
	require.NoError(t, err)
	return answer.New(federation.NewBuilder(c), gen, executor.New(executor.Config{}),
		answer.WithUsage(telemetry.NewUsageTracker()))
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	return New(newService(t, generator.Static{Text: "SELECT asset_id FROM assets_shared LIMIT 3"}), opts)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// ENDPOINTS
// =============================================================================

func TestAnswerEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s.Handler(), http.MethodPost, "/v1/answer", `{"role":"sensor_viewer","question":"list assets"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "SensorViewer", body["role"])
	assert.Equal(t, "Results: 3 rows", body["message"])
	out := body["outcome"].(map[string]any)
	assert.Equal(t, "Ok", out["kind"])
	assert.Len(t, out["rows"], 3)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestQueryEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	h := s.Handler()

	tests := []struct {
		name string
		body string
		kind string
		msg  string
	}{
		{"denied", `{"role":"SensorViewer","sql":"SELECT * FROM revenue.asset_revenue LIMIT 5;"}`,
			"AccessDenied", "Access denied: Your role (SensorViewer) cannot access revenue data."},
		{"rejected", `{"role":"PlantDirector","sql":"DROP TABLE sensor_readings;"}`,
			"Rejected", "Security alert: forbidden keyword: DROP"},
		{"empty", `{"role":"PlantDirector","sql":"SELECT * FROM assets_shared WHERE asset_id = 'AST-999';"}`,
			"Empty", "No data found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/query", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, tt.kind, body["outcome"].(map[string]any)["kind"])
			assert.Equal(t, tt.msg, body["message"])
		})
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, Options{})
	h := s.Handler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"role":`, http.StatusBadRequest},
		{"unknown field", `{"role":"PlantDirector","sql":"SELECT 1","extra":1}`, http.StatusBadRequest},
		{"missing sql", `{"role":"PlantDirector"}`, http.StatusBadRequest},
		{"unknown role", `{"role":"Janitor","sql":"SELECT 1"}`, http.StatusBadRequest},
		{"too long", fmt.Sprintf(`{"role":"PlantDirector","sql":"%s"}`, strings.Repeat("x", MaxQuestionLength+1)), http.StatusBadRequest},
		{"too large", fmt.Sprintf(`{"role":"PlantDirector","sql":"%s"}`, strings.Repeat("x", MaxRequestBodySize)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Contains(t, body, "error")
		})
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	s := New(newService(t, nil), Options{})
	rec := do(t, s.Handler(), http.MethodPost, "/v1/answer", `{"role":"PlantDirector","question":"q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRolesEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s.Handler(), http.MethodGet, "/v1/roles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var roles []RoleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 4)
	assert.Equal(t, RoleInfo{Role: "SensorViewer", Grants: []string{}, Stores: []string{"sensors"}}, roles[0])
	assert.Equal(t, []string{"sensors", "maintenance", "revenue"}, roles[3].Stores)
}

func TestSchemaEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/schema/MaintenanceManager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["schema"], "work_orders")
	assert.NotContains(t, body["schema"], "asset_revenue")

	rec = do(t, h, http.MethodGet, "/v1/schema/Nobody", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	h := s.Handler()
	do(t, h, http.MethodPost, "/v1/query", `{"role":"PlantDirector","sql":"SELECT 1"}`)

	rec := do(t, h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 1.0, body["total"])
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := telemetry.NewMetrics()
	s := newTestServer(t, Options{
		Metrics: metrics,
		Version: "test",
		Health:  func(ctx context.Context) error { return errors.New("ollama down") },
	})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "static", body["generator"])
	assert.Equal(t, 3.0, body["stores"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fedquery_http_requests_total{code="200",route="/health"} 1`)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s.Handler(), http.MethodGet, "/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/v1/answer", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuth(t *testing.T) {
	s := newTestServer(t, Options{Token: "secret-token"})
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/roles", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/roles", "", "Authorization", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/roles", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/roles", "", "Authorization", "Bearer secret-token").Code)
	// Health stays open for probes.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: 2})
	h := s.Handler()
	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, h, http.MethodGet, "/v1/roles", "").Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRecovery(t *testing.T) {
	h := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, Options{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+ln.Addr().String()+"/v1/query", "application/json",
		bytes.NewBufferString(`{"role":"RevenueAnalyst","sql":"SELECT count(*) AS n FROM revenue.asset_revenue"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := newTestServer(t, Options{Addr: ln.Addr().String()})
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestRun_OfflineRefusesPublicAddr(t *testing.T) {
	offline.SetOfflineMode(true)
	t.Cleanup(func() { offline.SetOfflineMode(false) })

	s := newTestServer(t, Options{Addr: "0.0.0.0:0"})
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)
}
