// check.go - Health checks for configuration, stores and the generator.
//
// Checks performed:
//  1. Config      - the configuration loaded and validated
//  2. Stores      - every store opens read-only and introspects
//  3. Roles       - a federation builds for every role
//  4. Generator   - the configured backend is reachable
//  5. Audit       - the audit log is open and writable
//  6. Network     - whether offline mode is active
//
// Exit code is 0 when nothing failed; warnings do not fail the run.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/config"
	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/ollama"
	"github.com/jeranaias/fedquery/internal/security"
)

// =============================================================================
// CHECK TYPES
// =============================================================================

// CheckStatus is the result of one health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthCheck is one check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	// Fix is a suggested remedy shown for warnings and failures.
	Fix string `json:"fix,omitempty"`
}

// Render formats the check for the terminal.
func (c HealthCheck) Render() string {
	out := fmt.Sprintf("%s %s%s", RenderStatus(c.Status.String()), RenderLabel(c.Name), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		out += "\n" + DimStyle.Render("     -> "+c.Fix)
	}
	return out
}

// =============================================================================
// CHECKS
// =============================================================================

// runChecks performs every check. svcErr is the error from building the
// service; role checks are skipped when it is set. audit is nil when the
// audit log is disabled or failed to open.
func runChecks(ctx context.Context, cfg *config.Config, configPath string, svc *answer.Service, svcErr error, audit *security.AuditLogger) []HealthCheck {
	checks := []HealthCheck{checkConfig(configPath)}

	if svcErr != nil {
		checks = append(checks, HealthCheck{
			Name:    "Stores",
			Status:  CheckFail,
			Message: svcErr.Error(),
			Fix:     "Run: fedquery seed",
		})
	} else {
		stores := svc.Catalog().ListStores()
		names := make([]string, len(stores))
		for i, s := range stores {
			names[i] = s.Name
		}
		checks = append(checks, HealthCheck{
			Name:    "Stores",
			Status:  CheckPass,
			Message: fmt.Sprintf("%d stores (%s)", len(stores), strings.Join(names, ", ")),
		})
		for _, role := range security.Roles() {
			checks = append(checks, checkRole(ctx, svc, role))
		}
	}

	checks = append(checks, checkGenerator(ctx, cfg))
	if svcErr == nil {
		checks = append(checks, checkAudit(cfg, audit))
	}
	return append(checks, checkNetwork())
}

func checkAudit(cfg *config.Config, audit *security.AuditLogger) HealthCheck {
	c := HealthCheck{Name: "Audit"}
	switch {
	case !cfg.Audit.Enabled:
		c.Status = CheckWarn
		c.Message = "disabled"
		c.Fix = "Run: fedquery config set audit.enabled true"
		return c
	case audit == nil:
		c.Status = CheckFail
		c.Message = "audit log could not be opened"
		c.Fix = "Check audit.path and its directory permissions"
		return c
	}
	if err := audit.LogEvent("", security.EventCheck, nil); err != nil || audit.FailureCount() > 0 {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("%d consecutive write failures at %s", audit.FailureCount(), audit.Path())
		c.Fix = "Check free space and permissions for " + audit.Path()
		return c
	}
	c.Status = CheckPass
	c.Message = "writing to " + audit.Path()
	return c
}

func checkNetwork() HealthCheck {
	return HealthCheck{Name: "Network", Status: CheckPass, Message: offline.Describe()}
}

func checkConfig(path string) HealthCheck {
	if path == "" {
		p, err := config.ConfigPath()
		if err == nil {
			path = p
		}
	}
	return HealthCheck{Name: "Config", Status: CheckPass, Message: "valid (" + path + ")"}
}

func checkRole(ctx context.Context, svc *answer.Service, role security.Role) HealthCheck {
	c := HealthCheck{Name: role.String()}
	scope, err := svc.Describe(ctx, role)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		return c
	}
	c.Status = CheckPass
	c.Message = "attaches " + strings.Join(scope.Stores, ", ")
	return c
}

func checkGenerator(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Generator"}
	switch cfg.Generator.Backend {
	case generator.BackendStatic:
		c.Status = CheckWarn
		c.Message = "static backend; every question gets the same query"
		c.Fix = "Run: fedquery config set generator.backend ollama"
	case generator.BackendGenAI:
		if cfg.GenAI.APIKey == "" {
			c.Status = CheckFail
			c.Message = "genai backend without an API key"
			c.Fix = "Set FEDQUERY_GENAI_API_KEY or genai.api_key"
			return c
		}
		c.Status = CheckPass
		c.Message = "genai " + cfg.GenAI.Model
	default:
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Ollama.URL, Timeout: 5 * time.Second})
		if err := client.CheckRunning(ctx); err != nil {
			c.Status = CheckFail
			c.Message = "ollama not reachable at " + client.Config().BaseURL
			c.Fix = "Run: ollama serve"
			return c
		}
		ok, err := client.ModelExists(ctx, cfg.Ollama.Model)
		switch {
		case err != nil:
			c.Status = CheckWarn
			c.Message = "could not list models: " + err.Error()
		case !ok:
			c.Status = CheckFail
			c.Message = "model " + cfg.Ollama.Model + " not found"
			c.Fix = "Run: ollama pull " + cfg.Ollama.Model
		default:
			c.Status = CheckPass
			c.Message = "ollama " + cfg.Ollama.Model
		}
	}
	return c
}

// =============================================================================
// COMMAND
// =============================================================================

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "check",
		Aliases: []string{"doctor"},
		Short:   "Check configuration, stores and the query generator",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, svcErr := a.buildService(cmd.Context(), serviceOptions{})
			audit, _ := a.auditLogger()
			checks := runChecks(cmd.Context(), a.cfg, a.configPath, svc, svcErr, audit)

			failed := 0
			for _, c := range checks {
				if c.Status == CheckFail {
					failed++
				}
			}
			var err error
			if failed > 0 {
				err = fmt.Errorf("%d of %d checks failed", failed, len(checks))
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				resp := NewJSONResponse("check", checks)
				if err != nil {
					resp = NewJSONErrorResponse("check", err, checks)
				}
				if perr := resp.Print(out); perr != nil {
					return perr
				}
				return err
			}
			renderChecks(out, checks)
			return err
		},
	}
}

func renderChecks(w io.Writer, checks []HealthCheck) {
	fmt.Fprintln(w, TitleStyle.Render("fedquery check"))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
}
