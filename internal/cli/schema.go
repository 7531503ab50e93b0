// schema.go - Role and schema inspection.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/fedquery/internal/answer"
)

func newRolesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List roles with their capabilities and stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.buildService(cmd.Context(), serviceOptions{})
			if err != nil {
				return err
			}
			roles := svc.Roles()
			if a.jsonOut {
				return NewJSONResponse("roles", roles).Print(cmd.OutOrStdout())
			}
			renderRoles(cmd.OutOrStdout(), roles)
			return nil
		},
	}
}

func renderRoles(w io.Writer, roles []answer.RoleInfo) {
	fmt.Fprintln(w, TitleStyle.Render("Roles"))
	for _, r := range roles {
		grants := "-"
		if len(r.Grants) > 0 {
			grants = strings.Join(r.Grants, ", ")
		}
		fmt.Fprintf(w, "%s%s\n", RenderLabel(r.Role), ValueStyle.Render(strings.Join(r.Stores, ", ")))
		fmt.Fprintf(w, "%s%s\n", RenderLabel(""), DimStyle.Render(grants))
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema ROLE",
		Short: "Show the stores and schema visible to a role",
		Long: `Shows exactly what the query generator sees for the role: the attached
stores and the schema text with sample rows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRoleFlag(args[0])
			if err != nil {
				return err
			}
			svc, err := a.buildService(cmd.Context(), serviceOptions{})
			if err != nil {
				return err
			}
			scope, err := svc.Describe(cmd.Context(), role)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return NewJSONResponse("schema", scope).Print(cmd.OutOrStdout())
			}
			RenderScope(cmd.OutOrStdout(), scope)
			return nil
		},
	}
}
