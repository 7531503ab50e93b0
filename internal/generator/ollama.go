// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/fedquery/internal/ollama"
)

// Ollama generates queries with a local Ollama model at temperature 0.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama returns an Ollama-backed generator. An empty model uses the
// client's default.
func NewOllama(client *ollama.Client, model string) *Ollama {
	return &Ollama{client: client, model: model}
}

// Generate sends the rendered prompt as a single user message.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	resp, err := o.client.ChatWithOptions(ctx, o.model,
		[]ollama.Message{ollama.NewUserMessage(prompt)},
		&ollama.Options{Temperature: ollama.Float(0)})
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name identifies the backend.
func (o *Ollama) Name() string { return "ollama" }
