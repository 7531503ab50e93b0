// serve.go - HTTP API server command.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/ollama"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/server"
	"github.com/jeranaias/fedquery/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves the answer pipeline over HTTP until interrupted.

Routes:
  POST /v1/answer        {"role": "...", "question": "..."}
  POST /v1/query         {"role": "...", "sql": "..."}
  GET  /v1/roles
  GET  /v1/schema/{role}
  GET  /v1/stats
  GET  /health
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics := telemetry.NewMetrics()
			svc, err := a.buildService(ctx, serviceOptions{
				generator:         true,
				generatorOptional: true,
				metrics:           metrics,
			})
			if err != nil {
				return err
			}

			if auditor, ok := a.auditLogger(); ok {
				_ = auditor.LogEvent("", security.EventStartup, map[string]string{"version": Version})
				defer func() { _ = auditor.LogEvent("", security.EventShutdown, nil) }()
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(svc, server.Options{
				Addr:            addr,
				Token:           a.cfg.Server.Token,
				RateLimit:       a.cfg.Server.RateLimit,
				ReadTimeout:     time.Duration(a.cfg.Server.ReadTimeoutSecs) * time.Second,
				WriteTimeout:    time.Duration(a.cfg.Server.WriteTimeoutSecs) * time.Second,
				ShutdownTimeout: time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second,
				Version:         Version,
				Logger:          a.logger,
				Metrics:         metrics,
				Health:          a.healthCheck(),
			})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// healthCheck probes the Ollama backend when it is the configured
// generator. Other backends have no cheap liveness call.
func (a *app) healthCheck() func(ctx context.Context) error {
	backend := a.cfg.Generator.Backend
	if backend != generator.BackendOllama && backend != "" {
		return nil
	}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: a.cfg.Ollama.URL,
		Timeout: 5 * time.Second,
	})
	return client.CheckRunning
}
