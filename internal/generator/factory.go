// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generator

import (
	"context"
	"fmt"

	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/ollama"
)

// Backend names.
const (
	BackendOllama = "ollama"
	BackendGenAI  = "genai"
	BackendStatic = "static"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Ollama  ollama.ClientConfig
	GenAI   GenAIConfig
	// StaticText is returned by the static backend.
	StaticText string
	// RPS throttles calls to the backend; zero disables throttling.
	RPS   float64
	Burst int
}

// New builds the configured generator, wrapped in a throttle when RPS is set.
// In offline mode only a localhost Ollama or the static backend is allowed.
func New(ctx context.Context, cfg Config) (Generator, error) {
	var g Generator
	switch cfg.Backend {
	case BackendOllama, "":
		if cfg.Ollama.BaseURL != "" {
			if err := offline.ValidateURL(cfg.Ollama.BaseURL); err != nil {
				return nil, fmt.Errorf("ollama: %w", err)
			}
		}
		g = NewOllama(ollama.NewClientWithConfig(&cfg.Ollama), cfg.Ollama.DefaultModel)
	case BackendGenAI:
		if err := offline.CheckCloudAllowed(); err != nil {
			return nil, err
		}
		gg, err := NewGenAI(ctx, cfg.GenAI)
		if err != nil {
			return nil, err
		}
		g = gg
	case BackendStatic:
		g = Static{Text: cfg.StaticText}
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
	return NewThrottled(g, cfg.RPS, cfg.Burst), nil
}
