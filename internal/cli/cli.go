// Package cli implements the fedquery command-line interface.
//
// Commands are built on cobra. Every command shares one app value that holds
// the loaded configuration and logger; PersistentPreRunE fills it in before
// any command runs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/config"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/federation"
	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/logging"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/telemetry"
)

// Build information, set from main via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// skipConfig marks commands that must work with a missing or broken config.
const skipConfig = "skip-config"

// =============================================================================
// APP STATE
// =============================================================================

type app struct {
	configPath string
	verbose    bool
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
	audit  *security.AuditLogger

	closers []func() error
}

// serviceOptions tunes buildService.
type serviceOptions struct {
	generator bool
	// generatorOptional keeps going without a generator when it cannot be
	// built, leaving only direct SQL.
	generatorOptional bool
	metrics           *telemetry.Metrics
}

// buildService loads the catalog and wires the answer pipeline from the
// configuration.
func (a *app) buildService(ctx context.Context, so serviceOptions) (*answer.Service, error) {
	specs, err := a.cfg.CatalogSpecs()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(ctx, specs, catalog.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	bopts := []federation.Option{federation.WithLogger(a.logger)}
	if so.metrics != nil {
		bopts = append(bopts, federation.WithRecorder(so.metrics))
	}
	builder := federation.NewBuilder(cat, bopts...)

	exec := executor.New(executor.Config{
		MaxRows: a.cfg.Executor.MaxRows,
		Timeout: a.cfg.QueryTimeout(),
		Logger:  a.logger,
	})

	var gen generator.Generator
	if so.generator {
		gen, err = generator.New(ctx, a.cfg.GeneratorConfig())
		switch {
		case err != nil && so.generatorOptional:
			a.logger.Warn("GENERATOR_UNAVAILABLE", zap.Error(err))
			gen = nil
		case err != nil:
			return nil, fmt.Errorf("query generator: %w", err)
		}
	}

	usage := telemetry.NewUsageTracker()
	opts := []answer.Option{
		answer.WithLogger(a.logger),
		answer.WithRowLimit(a.cfg.Generator.RowLimit),
		answer.WithUsage(usage),
	}
	if so.metrics != nil {
		opts = append(opts, answer.WithMetrics(so.metrics))
	}
	if a.cfg.Audit.Enabled {
		al, err := security.NewAuditLogger(a.cfg.Audit.Path)
		if err != nil {
			// Answers are read-only; a missing audit trail is not fatal.
			a.logger.Warn("AUDIT_DISABLED", zap.Error(err))
		} else {
			al.SetMaxSize(a.cfg.AuditMaxSize())
			logger := a.logger
			al.SetOnFailure(func(err error) {
				so.metrics.AuditFailed()
				usage.RecordAuditFailure()
				logger.Warn("AUDIT_WRITE_FAILED", zap.Error(err))
			})
			a.audit = al
			a.closers = append(a.closers, al.Close)
			opts = append(opts, answer.WithAuditor(al))
		}
	}

	return answer.New(builder, gen, exec, opts...), nil
}

// auditLogger returns the audit logger opened by buildService, if any.
func (a *app) auditLogger() (*security.AuditLogger, bool) {
	return a.audit, a.audit != nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("CLOSE_FAILED", zap.Error(err))
		}
	}
	a.closers = nil
	a.audit = nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "fedquery",
		Short: "Role-scoped natural-language queries over federated SQLite stores",
		Long: `fedquery answers questions over several SQLite stores at once.

Each request runs as a role. The role decides which stores are attached
to the request's connection; tables from other stores simply do not exist
for it. Queries are read-only: anything but SELECT or WITH is refused
before it reaches a store, and the connection itself refuses writes.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "" {
				cfg, err := config.Load(a.configPath)
				if err != nil {
					return err
				}
				a.cfg = cfg
			} else {
				a.cfg = config.Default()
			}
			offline.SetOfflineMode(a.cfg.Offline)

			logger, err := logging.New(logging.Config{
				Level:   a.cfg.Log.Level,
				Format:  a.cfg.Log.Format,
				Verbose: a.verbose,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.fedquery/config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "machine-readable JSON output")

	root.AddCommand(
		newAskCmd(a),
		newQueryCmd(a),
		newRolesCmd(a),
		newSchemaCmd(a),
		newChatCmd(a),
		newServeCmd(a),
		newSeedCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(context.Background())
	a.close()
	if err == nil {
		return
	}

	var oerr *OutcomeError
	if !errors.As(err, &oerr) {
		out := os.Stderr
		if a.jsonOut {
			out = os.Stdout
		}
		DisplayError(out, err, a.jsonOut)
	}
	os.Exit(GetExitCode(err))
}
