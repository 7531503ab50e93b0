// ask.go - One-shot questions and raw queries.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/security"
)

const roleExample = "--role PlantDirector"

func newAskCmd(a *app) *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   "ask --role ROLE QUESTION...",
		Short: "Answer a natural-language question as a role",
		Long: `Turns the question into SQL with the configured generator, checks that
it is read-only, and runs it over the stores the role may see.

Example:
  fedquery ask --role MaintenanceManager "which assets had the most work orders"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRoleFlag(roleName)
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return NewValidationError("question", "", "must not be empty")
			}

			svc, err := a.buildService(cmd.Context(), serviceOptions{generator: true})
			if err != nil {
				return err
			}
			ans, err := svc.Answer(cmd.Context(), role, question)
			if err != nil {
				return err
			}
			return a.printAnswer(cmd, "ask", ans)
		},
	}
	cmd.Flags().StringVarP(&roleName, "role", "r", "", "role to answer as (see `fedquery roles`)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// queryExample appears in the query command's help.
const queryExample = "SELECT asset_id, criticality FROM assets_shared LIMIT 5"

func newQueryCmd(a *app) *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   "query --role ROLE SQL",
		Short: "Run a read-only SQL query as a role",
		Long: `Runs SQL directly, skipping generation. The query passes the same
read-only gate and classification as a generated one.

Example:
  fedquery query --role SensorViewer "` + queryExample + `"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRoleFlag(roleName)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			svc, err := a.buildService(cmd.Context(), serviceOptions{})
			if err != nil {
				return err
			}
			ans, err := svc.Run(cmd.Context(), role, query)
			if err != nil {
				return err
			}
			return a.printAnswer(cmd, "query", ans)
		},
	}
	cmd.Flags().StringVarP(&roleName, "role", "r", "", "role to run as (see `fedquery roles`)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// printAnswer writes ans and returns an OutcomeError for failed outcomes so
// the exit code reflects them.
func (a *app) printAnswer(cmd *cobra.Command, command string, ans *answer.Answer) error {
	oerr := outcomeErr(ans.Outcome)
	out := cmd.OutOrStdout()

	if a.jsonOut {
		resp := NewJSONResponse(command, ans)
		if oerr != nil {
			resp = NewJSONErrorResponse(command, errors.New(ans.Message()), ans)
		}
		if err := resp.Print(out); err != nil {
			return err
		}
		return oerr
	}

	RenderAnswer(out, ans)
	return oerr
}

func parseRoleFlag(name string) (security.Role, error) {
	if strings.TrimSpace(name) == "" {
		return 0, &ValidationError{Field: "role", Reason: "is required", Example: roleExample}
	}
	role, err := security.ParseRole(name)
	if err != nil {
		return 0, fmt.Errorf("%w (known roles: %s)", err, strings.Join(roleNames(), ", "))
	}
	return role, nil
}

func roleNames() []string {
	roles := security.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return names
}
