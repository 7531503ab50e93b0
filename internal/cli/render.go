// render.go - Terminal rendering of answers, result tables and schemas.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/outcome"
	"github.com/jeranaias/fedquery/internal/util"
)

// MaxCellWidth caps a table cell in display cells.
const MaxCellWidth = 40

// =============================================================================
// ANSWERS
// =============================================================================

// RenderAnswer writes the query, the outcome message and any rows.
func RenderAnswer(w io.Writer, a *answer.Answer) {
	if a.Query != "" {
		fmt.Fprintln(w, DimStyle.Render("SQL:"))
		fmt.Fprintln(w, highlightSQL(a.Query))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, OutcomeStyle(a.Outcome.Kind).Render(a.Message()))

	if a.Outcome.Kind == outcome.Ok && len(a.Outcome.Columns) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderTable(a.Outcome.Columns, a.Outcome.Rows))
	}
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("(%s, %s)", a.Role, a.Duration.Round(time.Millisecond))))
}

// RenderTable renders rows as a bordered table. Box-drawing borders are
// only used when colors are on, so piped output stays ASCII.
func RenderTable(columns []string, rows []executor.Row) string {
	border := lipgloss.ASCIIBorder()
	if ColorsEnabled() {
		border = lipgloss.NormalBorder()
	}

	t := table.New().
		Border(border).
		BorderStyle(SeparatorStyle).
		Headers(columns...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		})

	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r.Values() {
			cells[i] = util.TruncateWidth(util.OneLine(util.FormatValue(v)), MaxCellWidth)
		}
		t.Row(cells...)
	}
	return t.Render()
}

// highlightSQL colors query text for terminals. Plain text is returned
// when colors are off or highlighting fails.
func highlightSQL(query string) string {
	if !ColorsEnabled() {
		return query
	}

	lexer := lexers.Get("sql")
	if lexer == nil {
		return query
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, query)
	if err != nil {
		return query
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return query
	}
	return buf.String()
}

// =============================================================================
// SCHEMA
// =============================================================================

// scopeMarkdown describes a role's scope as markdown.
func scopeMarkdown(s *answer.Scope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Role)

	b.WriteString("**Capabilities:** ")
	if len(s.Grants) == 0 {
		b.WriteString("none (base store only)")
	} else {
		b.WriteString(strings.Join(s.Grants, ", "))
	}
	b.WriteString("\n\n**Stores:**\n\n")
	for _, name := range s.Stores {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\n## Schema\n\n```sql\n")
	b.WriteString(strings.TrimSpace(s.Schema))
	b.WriteString("\n```\n")
	return b.String()
}

// RenderScope writes a role's scope. On a color terminal the markdown is
// rendered with glamour; otherwise it is written as-is.
func RenderScope(w io.Writer, s *answer.Scope) {
	md := scopeMarkdown(s)
	if !ColorsEnabled() {
		fmt.Fprint(w, md)
		return
	}

	width := GetTerminalWidth() - 4
	if width > 120 {
		width = 120
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	fmt.Fprint(w, out)
}
