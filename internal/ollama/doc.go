// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// Only non-streaming chat is used: query generation needs the whole answer
// before the safety gate can inspect it.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://127.0.0.1:11434",
//	    DefaultModel: "llama3:latest",
//	})
//	resp, err := client.ChatWithOptions(ctx, "", []ollama.Message{
//	    ollama.NewUserMessage(prompt),
//	}, &ollama.Options{Temperature: ollama.Float(0)})
package ollama
