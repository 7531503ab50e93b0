// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/ollama"
)

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt(Request{Schema: "CREATE TABLE sensor_readings (x)", Question: "hottest assets?"})
	require.NoError(t, err)
	assert.Contains(t, p, "CREATE TABLE sensor_readings (x)")
	assert.Contains(t, p, "Question: hottest assets?")
	assert.Contains(t, p, "Default to LIMIT 5 ")

	p, err = BuildPrompt(Request{Question: "q", RowLimit: 12})
	require.NoError(t, err)
	assert.Contains(t, p, "LIMIT 12 ")
}

func TestStatic(t *testing.T) {
	s := Static{Text: "SELECT 1;"}
	got, err := s.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", got)

	boom := errors.New("boom")
	_, err = Static{Err: boom}.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaGenerator(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Messages[0].Content
		json.NewEncoder(w).Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: "  SELECT * FROM assets_shared LIMIT 5;\n"},
		})
	}))
	defer srv.Close()

	g := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}), "")
	got, err := g.Generate(context.Background(), Request{Schema: "S", Question: "list assets"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM assets_shared LIMIT 5;", got)
	assert.Contains(t, prompt, "Question: list assets")
	assert.Equal(t, "ollama", g.Name())
}

func TestOllamaGenerator_EmptyAndError(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.ChatResponse{})
	}))
	defer empty.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	g := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: empty.URL}), "m")
	_, err := g.Generate(context.Background(), Request{Question: "q"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	g = NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: failing.URL}), "m")
	_, err = g.Generate(context.Background(), Request{Question: "q"})
	assert.Error(t, err)
}

func TestGenAIGenerator(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"SELECT 2;"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGenAI(context.Background(), GenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	got, err := g.Generate(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2;", got)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewGenAI_RequiresKey(t *testing.T) {
	_, err := NewGenAI(context.Background(), GenAIConfig{})
	assert.Error(t, err)
}

func TestThrottled(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "SELECT 1;", nil
	})

	g := NewThrottled(inner, 1, 1)
	_, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)

	// Second call must wait about a second; a short deadline aborts it.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, "func", g.Name())
}

func TestThrottled_Disabled(t *testing.T) {
	inner := Static{Text: "x"}
	assert.Equal(t, Generator(inner), NewThrottled(inner, 0, 0))
}

func TestNew(t *testing.T) {
	g, err := New(context.Background(), Config{Backend: BackendStatic, StaticText: "SELECT 3;"})
	require.NoError(t, err)
	got, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3;", got)

	g, err = New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Name())

	_, err = New(context.Background(), Config{Backend: "gpt"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Backend: BackendGenAI})
	assert.Error(t, err)
}

func TestNew_OfflineMode(t *testing.T) {
	offline.SetOfflineMode(true)
	t.Cleanup(func() { offline.SetOfflineMode(false) })

	_, err := New(context.Background(), Config{Backend: BackendGenAI, GenAI: GenAIConfig{APIKey: "k"}})
	assert.ErrorIs(t, err, offline.ErrCloudBlocked)

	_, err = New(context.Background(), Config{Ollama: ollama.ClientConfig{BaseURL: "http://gpu-box:11434"}})
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)

	g, err := New(context.Background(), Config{Ollama: ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Name())
}
