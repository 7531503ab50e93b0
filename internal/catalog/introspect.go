// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/fedquery/internal/util"

	_ "modernc.org/sqlite"
)

// SampleRows is the default number of rows shown per table in a fragment.
const SampleRows = 2

// maxSampleValue caps each sample value so one long text column does not
// dominate the prompt.
const maxSampleValue = 100

type column struct {
	name string
	typ  string
}

// introspect opens the store read-only, lists its tables and builds the
// schema fragment for the exposed ones.
func introspect(ctx context.Context, store *Store, expose []string, qualifier string, sampleRows int) error {
	db, err := sql.Open("sqlite", store.URI())
	if err != nil {
		return fmt.Errorf("failed to open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	tables, err := listTables(ctx, db)
	if err != nil {
		return err
	}
	store.Tables = tables

	if len(expose) == 0 {
		store.Expose = append([]string(nil), tables...)
	} else {
		for _, t := range expose {
			if !store.HasTable(t) {
				return fmt.Errorf("exposed table %q not found", t)
			}
		}
		store.Expose = append([]string(nil), expose...)
	}

	var parts []string
	for _, t := range store.Expose {
		frag, err := tableFragment(ctx, db, t, qualifier, sampleRows)
		if err != nil {
			return err
		}
		parts = append(parts, frag)
	}
	store.Fragment = strings.Join(parts, "\n\n")
	return nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	sort.Strings(tables)
	return tables, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, column{name: name, typ: typ})
	}
	return cols, rows.Err()
}

// tableFragment renders one table as a CREATE statement followed by a
// comment block holding sample rows.
func tableFragment(ctx context.Context, db *sql.DB, table, qualifier string, sampleRows int) (string, error) {
	cols, err := tableColumns(ctx, db, table)
	if err != nil {
		return "", err
	}

	qualified := table
	if qualifier != "" {
		qualified = qualifier + "." + table
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualified)
	for i, c := range cols {
		b.WriteString("\t")
		b.WriteString(c.name)
		if c.typ != "" {
			b.WriteString(" " + strings.ToUpper(c.typ))
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	if sampleRows <= 0 {
		return b.String(), nil
	}

	samples, err := sampleValues(ctx, db, table, len(cols), sampleRows)
	if err != nil {
		return "", err
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n%s\n", sampleRows, qualified, strings.Join(names, "\t"))
	for _, row := range samples {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String(), nil
}

func sampleValues(ctx context.Context, db *sql.DB, table string, ncols, limit int) ([][]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals := make([]any, ncols)
		ptrs := make([]any, ncols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan sample of %s: %w", table, err)
		}
		row := make([]string, ncols)
		for i, v := range vals {
			row[i] = util.TruncateRunesNoEllipsis(util.FormatValue(v), maxSampleValue)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
