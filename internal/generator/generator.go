// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generator turns a natural-language question into candidate SQL.
// Generators are untrusted: everything they return goes through the safety
// gate before it runs.
package generator

import (
	"context"
	"errors"
	"strings"
	"text/template"
)

// DefaultRowLimit is the row limit hinted to the generator when the
// question does not ask for a number.
const DefaultRowLimit = 5

// ErrEmptyResponse is returned when a backend produces no text.
var ErrEmptyResponse = errors.New("generator returned no text")

// Request is the input to a generator.
type Request struct {
	Schema   string
	Question string
	RowLimit int
}

// Generator produces candidate query text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// =============================================================================
// PROMPT
// =============================================================================

const promptText = `You are an expert SQL assistant specializing in Industrial IoT data analysis.
You are writing queries for a SQLite database with multiple attached databases.

Your Goal: Generate an optimized, syntactically correct SQL query to answer the user's question based strictly on the provided schema.

Schema Context:
{{.Schema}}

Security Constraints (CRITICAL):
1. READ-ONLY: You are a READ-ONLY assistant.
2. Prohibited Actions: NEVER generate SQL that creates, modifies, updates, deletes, or drops tables, columns, or rows.
3. Refusal: ONLY if the user explicitly asks to modify data, return: "I cannot execute modification queries."

General Guidelines:
1. Schema Adherence: Use ONLY the tables and columns defined in the Schema Context.
2. Table Selection (CRITICAL):
   - "Work Orders" -> maintenance.work_orders
   - "Sensor Readings" -> sensor_readings
   - "Employees" -> employees_shared
   - "Assets" -> assets_shared
   - "Revenue" -> revenue.asset_revenue (DO NOT query sensor_readings)
   - If the user asks for "work orders", you MUST query maintenance.work_orders.
   - If the user asks for "revenue", you MUST join revenue.asset_revenue. NEVER select "revenue" or "amount_usd" from sensor_readings.
3. Attached Database Syntax:
   - Tables in attached databases MUST be referenced with their prefix (e.g., maintenance.work_orders).
   - ALWAYS assign short aliases to tables (e.g., maintenance.work_orders AS wo).
   - Use the alias to qualify columns (e.g., wo.cost), not the full database name.
4. Join Strategy:
   - Treat the central entity (usually assets_shared) as the primary table.
   - JOIN other tables to it using the common identifier (e.g., asset_id).
   - DO NOT join unrelated tables unless the question requires their data.
5. Semantics:
   - Map "revenue" to financial columns (e.g., amount_usd) and "cost" to expense columns.
   - ALWAYS select the identifier column (e.g., asset_id) alongside metrics.
6. Aggregation: For "top", "highest", or "ranking", use aggregate functions with ORDER BY and LIMIT.

Output Format rules:
- Return ONLY the raw SQL code.
- No Markdown formatting.
- No explanations.
- The output must start with SELECT and end with ;
- Default to LIMIT {{.RowLimit}} if no specific number is requested.

Question: {{.Question}}
`

var promptTmpl = template.Must(template.New("prompt").Parse(promptText))

// BuildPrompt renders the generation prompt for req.
func BuildPrompt(req Request) (string, error) {
	if req.RowLimit <= 0 {
		req.RowLimit = DefaultRowLimit
	}
	var b strings.Builder
	if err := promptTmpl.Execute(&b, req); err != nil {
		return "", err
	}
	return b.String(), nil
}

// =============================================================================
// STATIC
// =============================================================================

// Static returns fixed text for every request. It backs direct SQL entry
// and tests.
type Static struct {
	Text string
	Err  error
}

// Generate returns s.Text or s.Err.
func (s Static) Generate(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Text, nil
}

// Name identifies the backend.
func (Static) Name() string { return "static" }

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Name identifies the backend.
func (Func) Name() string { return "func" }
