// chat.go - Interactive question loop.
//
// Interactive commands:
//
//	/role [name]   Show or switch the active role
//	/roles         List roles
//	/schema        Show the active role's schema
//	/sql QUERY     Run SQL directly
//	/stats         Session statistics
//	/help, /h      Show commands
//	/quit, /q      Exit (Ctrl+D also exits)
//
// Anything else is a question for the active role.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/config"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/security"
)

var promptStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("39")).
	Bold(true)

var chatCommands = []string{"/role", "/roles", "/schema", "/sql", "/stats", "/help", "/quit"}

// =============================================================================
// LINE EDITING
// =============================================================================

// chatInput wraps liner with a history file in the config directory.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput() *chatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeChat)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &chatInput{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (c *chatInput) read(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *chatInput) close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// completeChat completes slash commands and role names after /role.
func completeChat(line string) []string {
	var out []string
	if rest, ok := strings.CutPrefix(line, "/role "); ok {
		for _, name := range roleNames() {
			if strings.HasPrefix(strings.ToLower(name), strings.ToLower(rest)) {
				out = append(out, "/role "+name)
			}
		}
		return out
	}
	for _, c := range chatCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession holds the state of one interactive loop. It writes to out and
// never reads the terminal itself, so it can be driven line by line.
type chatSession struct {
	svc  *answer.Service
	role security.Role
	out  io.Writer

	questions int
	started   time.Time
}

func newChatSession(svc *answer.Service, role security.Role, out io.Writer) *chatSession {
	return &chatSession{svc: svc, role: role, out: out, started: time.Now()}
}

// handleLine processes one input line and reports whether the loop should
// stop. Errors are printed to out.
func (s *chatSession) handleLine(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return true
	}
	if strings.HasPrefix(line, "/") {
		quit, err := s.command(ctx, line)
		if err != nil {
			s.printError(err)
		}
		return quit
	}

	s.questions++
	ans, err := s.svc.Answer(ctx, s.role, line)
	if err != nil {
		if errors.Is(err, answer.ErrNoGenerator) {
			err = fmt.Errorf("%w; use /sql to run queries directly", err)
		}
		s.printError(err)
		return false
	}
	RenderAnswer(s.out, ans)
	return false
}

func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help", "/h", "/?", "/":
		s.printHelp()
	case "/quit", "/q", "/exit":
		return true, nil
	case "/role":
		if arg == "" {
			fmt.Fprintf(s.out, "%s %s\n", InfoStyle.Render("[Role]"), s.role)
			return false, nil
		}
		role, err := parseRoleFlag(arg)
		if err != nil {
			return false, err
		}
		s.role = role
		fmt.Fprintf(s.out, "%s now answering as %s\n", InfoStyle.Render("[Role]"), role)
	case "/roles":
		renderRoles(s.out, s.svc.Roles())
	case "/schema":
		scope, err := s.svc.Describe(ctx, s.role)
		if err != nil {
			return false, err
		}
		RenderScope(s.out, scope)
	case "/sql":
		if arg == "" {
			return false, NewValidationError("query", "", "usage: /sql SELECT ...")
		}
		s.questions++
		ans, err := s.svc.Run(ctx, s.role, arg)
		if err != nil {
			return false, err
		}
		RenderAnswer(s.out, ans)
	case "/stats":
		s.printStats()
	default:
		return false, fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return false, nil
}

func (s *chatSession) printError(err error) {
	fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, TitleStyle.Render("Commands"))
	rows := [][2]string{
		{"/role [name]", "Show or switch the active role"},
		{"/roles", "List roles and their stores"},
		{"/schema", "Show the schema visible to the active role"},
		{"/sql QUERY", "Run a read-only SQL query directly"},
		{"/stats", "Session statistics"},
		{"/quit", "Exit"},
	}
	for _, r := range rows {
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel(r[0]), DimStyle.Render(r[1]))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Anything else is asked as a question."))
}

func (s *chatSession) printStats() {
	fmt.Fprintln(s.out, TitleStyle.Render("Session"))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Role"), s.role)
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Requests"), s.questions)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Elapsed"), time.Since(s.started).Round(time.Second))

	usage := s.svc.Usage()
	if usage == nil {
		return
	}
	sum := usage.Summary()
	if sum.AuditFailures > 0 {
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Audit failures"), WarningStyle.Render(fmt.Sprint(sum.AuditFailures)))
	}
	if sum.Total == 0 {
		return
	}
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Avg duration"), sum.AvgDuration.Round(time.Millisecond))
	kinds := make([]string, 0, len(sum.ByOutcome))
	for k := range sum.ByOutcome {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(s.out, "%s%d\n", RenderLabel("  "+k), sum.ByOutcome[k])
	}
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question session",
		Long: `Starts a prompt that answers questions as the active role. Type /help
inside the session for commands. Ctrl+C cancels a running question; at
the prompt it exits, as does Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("chat"); err != nil {
				return err
			}
			role, err := parseRoleFlag(roleName)
			if err != nil {
				return err
			}
			svc, err := a.buildService(cmd.Context(), serviceOptions{generator: true, generatorOptional: true})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			session := newChatSession(svc, role, out)
			title := TitleStyle.Render("fedquery " + Version)
			if badge := offline.StatusBadge(); badge != "" {
				title += " " + WarningStyle.Render(badge)
			}
			fmt.Fprintln(out, title)
			fmt.Fprintf(out, "Answering as %s. Type /help for commands.\n", role)
			if svc.Generator() == nil {
				fmt.Fprintln(out, WarningStyle.Render("No query generator available; only /sql works."))
			}

			input := newChatInput()
			defer input.close()

			for {
				line, err := input.read(promptStyle.Render(session.role.String() + "> "))
				if err != nil {
					// Ctrl+C at the prompt, Ctrl+D or a closed terminal.
					fmt.Fprintln(out)
					break
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				quit := session.handleLine(ctx, line)
				stop()
				if quit {
					break
				}
			}
			session.printStats()
			return nil
		},
	}
	cmd.Flags().StringVarP(&roleName, "role", "r", security.SensorViewer.String(), "initial role")
	return cmd
}
