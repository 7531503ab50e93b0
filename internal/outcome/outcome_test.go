// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package outcome

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/security"
)

// fakeOwners mirrors the default plant catalog without touching disk.
type fakeOwners struct{}

var plantStores = []catalog.Store{
	{Name: "sensors", Base: true, Tables: []string{"assets_shared", "employees_shared", "sensor_readings"}},
	{Name: "maintenance", Capability: security.CapMaintenance, Tables: []string{"assets_shared", "employees_shared", "work_orders"}, Expose: []string{"work_orders"}},
	{Name: "revenue", Capability: security.CapRevenue, Tables: []string{"asset_revenue", "assets_shared"}, Expose: []string{"asset_revenue"}},
}

func (fakeOwners) ListStores() []catalog.Store { return plantStores }

func (fakeOwners) Owner(table string) (catalog.Store, bool) {
	if schema, name, ok := strings.Cut(table, "."); ok {
		for _, s := range plantStores {
			if s.Name == schema {
				return s, true
			}
		}
		table = name
	}
	for _, s := range plantStores {
		if s.HasTable(table) {
			return s, true
		}
	}
	return catalog.Store{}, false
}

func failed(code int, msg string) *executor.Result {
	return &executor.Result{Err: &executor.ExecError{Code: code, Message: msg}}
}

func TestClassify_NoSuchTable(t *testing.T) {
	tests := []struct {
		name string
		role security.Role
		msg  string
		want Outcome
	}{
		{"revenue denied to viewer", security.SensorViewer, "SQL logic error: no such table: revenue.asset_revenue (1)", NewAccessDenied("revenue")},
		{"revenue denied to maintenance", security.MaintenanceManager, "no such table: revenue.asset_revenue", NewAccessDenied("revenue")},
		{"maintenance denied to viewer", security.SensorViewer, "no such table: maintenance.work_orders", NewAccessDenied("maintenance")},
		{"maintenance denied to analyst", security.RevenueAnalyst, "no such table: maintenance.work_orders", NewAccessDenied("maintenance")},
		{"unqualified owned table", security.SensorViewer, "no such table: work_orders", NewAccessDenied("maintenance")},
		{"granted store, missing table", security.PlantDirector, "no such table: revenue.quarterly", NewInvalidQuery(ReasonTableNotFound)},
		{"base table typo", security.PlantDirector, "no such table: sensor_reading", NewInvalidQuery(ReasonTableNotFound)},
		{"unknown table", security.SensorViewer, "no such table: widgets", NewInvalidQuery(ReasonTableNotFound)},
		{"upper case message", security.SensorViewer, "NO SUCH TABLE: REVENUE.ASSET_REVENUE", NewAccessDenied("revenue")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(failed(sqlite3.SQLITE_ERROR, tt.msg), security.GrantsFor(tt.role), fakeOwners{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_NoSuchTableFallback(t *testing.T) {
	// Name not extractable: fall back to store and table names.
	got := Classify(failed(0, "no such table (asset_revenue)"), security.GrantsFor(security.SensorViewer), fakeOwners{})
	assert.Equal(t, NewAccessDenied("revenue"), got)

	got = Classify(failed(0, "no such table (asset_revenue)"), security.GrantsFor(security.RevenueAnalyst), fakeOwners{})
	assert.Equal(t, NewInvalidQuery(ReasonTableNotFound), got)

	got = Classify(failed(0, "no such table"), security.GrantsFor(security.SensorViewer), nil)
	assert.Equal(t, NewInvalidQuery(ReasonTableNotFound), got)
}

func TestClassify_Precedence(t *testing.T) {
	grants := security.GrantsFor(security.PlantDirector)
	tests := []struct {
		msg  string
		want Outcome
	}{
		{"no such column: wo.amount", NewInvalidQuery(ReasonInvalidColumn)},
		{`near "SELEC": syntax error`, NewInvalidQuery(ReasonSyntaxError)},
		{"ambiguous column name: asset_id", NewInvalidQuery(ReasonAmbiguousColumn)},
		{"no such table: x; also no such column y", NewInvalidQuery(ReasonTableNotFound)},
		{"no such column: y near syntax error", NewInvalidQuery(ReasonInvalidColumn)},
		{"misuse of aggregate: SUM()", NewInternalError("misuse of aggregate: SUM()")},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(failed(sqlite3.SQLITE_ERROR, tt.msg), grants, fakeOwners{}))
		})
	}
}

func TestClassify_StructuredCode(t *testing.T) {
	grants := security.GrantsFor(security.PlantDirector)
	got := Classify(failed(sqlite3.SQLITE_READONLY, "attempt to write a readonly database"), grants, fakeOwners{})
	assert.Equal(t, InternalError, got.Kind)

	// Text that looks like a schema problem but carries a non-logic code is
	// still internal.
	got = Classify(failed(sqlite3.SQLITE_CORRUPT, "no such table: x"), grants, fakeOwners{})
	assert.Equal(t, InternalError, got.Kind)
}

func TestClassify_RowsAndEmpty(t *testing.T) {
	grants := security.GrantsFor(security.SensorViewer)
	rows := []executor.Row{{{Name: "asset_id", Value: "AST-001"}}}

	ok := Classify(&executor.Result{Columns: []string{"asset_id"}, Rows: rows}, grants, fakeOwners{})
	assert.Equal(t, Ok, ok.Kind)
	assert.Equal(t, rows, ok.Rows)

	empty := Classify(&executor.Result{Columns: []string{"asset_id"}, Rows: []executor.Row{}}, grants, fakeOwners{})
	assert.Equal(t, Empty, empty.Kind)

	assert.Equal(t, InternalError, Classify(nil, grants, fakeOwners{}).Kind)
}

func TestOutcome_Message(t *testing.T) {
	role := security.SensorViewer
	tests := []struct {
		o    Outcome
		want string
	}{
		{NewAccessDenied("revenue"), "Access denied: Your role (SensorViewer) cannot access revenue data."},
		{NewInvalidQuery(ReasonTableNotFound), "Table not found. Please verify your query."},
		{NewInvalidQuery(ReasonInvalidColumn), "Invalid column. Please rephrase your question."},
		{NewInvalidQuery(ReasonSyntaxError), "SQL syntax error. Please rephrase your question."},
		{NewInvalidQuery(ReasonAmbiguousColumn), "Ambiguous column reference. Please be more specific."},
		{NewEmpty(nil), "No data found."},
		{NewInternalError("disk I/O error"), "Database error: disk I/O error"},
		{NewRejected("forbidden keyword: DROP"), "Security alert: forbidden keyword: DROP"},
		{NewOk(nil, make([]executor.Row, 3), false), "Results: 3 rows"},
		{NewOk(nil, make([]executor.Row, 3), true), "Results: 3 rows (truncated)"},
	}
	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.o.Message(role))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "AccessDenied", AccessDenied.String())
	assert.Equal(t, "Rejected", Rejected.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
