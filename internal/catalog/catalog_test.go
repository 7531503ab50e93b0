// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/seed"
)

func seedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := seed.Generate(context.Background(), seed.Options{
		Dir:   dir,
		Sizes: seed.SmallSizes(),
		Seed:  7,
		Now:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return dir
}

func TestLoad_DefaultCatalog(t *testing.T) {
	dir := seedDir(t)
	c, err := Load(context.Background(), DefaultSpecs(dir))
	require.NoError(t, err)

	stores := c.ListStores()
	require.Len(t, stores, 3)
	assert.Equal(t, []string{"sensors", "maintenance", "revenue"}, []string{stores[0].Name, stores[1].Name, stores[2].Name})
	assert.True(t, stores[0].Base)
	assert.Equal(t, security.CapMaintenance, stores[1].Capability)
	assert.Equal(t, security.CapRevenue, stores[2].Capability)

	assert.Equal(t, []string{"assets_shared", "employees_shared", "sensor_readings"}, stores[0].Tables)
	assert.Equal(t, []string{"assets_shared", "employees_shared", "work_orders"}, stores[1].Tables)
	assert.Equal(t, []string{"work_orders"}, stores[1].Expose)
	assert.Equal(t, []string{"asset_revenue"}, stores[2].Expose)
}

func TestLoad_Fragments(t *testing.T) {
	dir := seedDir(t)
	c, err := Load(context.Background(), DefaultSpecs(dir))
	require.NoError(t, err)

	base := c.Base().Fragment
	assert.Contains(t, base, "CREATE TABLE sensor_readings (")
	assert.Contains(t, base, "CREATE TABLE assets_shared (")
	assert.Contains(t, base, "2 rows from sensor_readings table:")
	assert.NotContains(t, base, "maintenance.")

	maint, ok := c.Store("maintenance")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(maint.Fragment, "CREATE TABLE maintenance.work_orders ("))
	assert.Contains(t, maint.Fragment, "\tcost REAL,\n")
	assert.Contains(t, maint.Fragment, "2 rows from maintenance.work_orders table:\norder_id\tasset_id\temployee_id\tstatus\tpriority\tcost\tdate_logged\nWO-1000\t")
	assert.NotContains(t, maint.Fragment, "assets_shared")

	rev, _ := c.Store("revenue")
	assert.Contains(t, rev.Fragment, "CREATE TABLE revenue.asset_revenue (")
}

func TestLoad_SampleRowsOption(t *testing.T) {
	dir := seedDir(t)
	c, err := Load(context.Background(), DefaultSpecs(dir), WithSampleRows(0))
	require.NoError(t, err)
	assert.NotContains(t, c.Base().Fragment, "rows from")
}

func TestLoad_BaseMovedFirst(t *testing.T) {
	dir := seedDir(t)
	specs := DefaultSpecs(dir)
	specs[0], specs[2] = specs[2], specs[0]
	c, err := Load(context.Background(), specs)
	require.NoError(t, err)
	assert.Equal(t, "sensors", c.Base().Name)
	s, ok := c.Store("revenue")
	require.True(t, ok)
	assert.Equal(t, "revenue", s.Name)
}

func TestLoad_UnreachableStore(t *testing.T) {
	dir := seedDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, seed.RevenueFile)))

	_, err := Load(context.Background(), DefaultSpecs(dir))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnreachable), "got %v", err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestLoad_NotADatabase(t *testing.T) {
	dir := seedDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, seed.MaintenanceFile), []byte("not sqlite at all, just text padding the header out"), 0600))

	_, err := Load(context.Background(), DefaultSpecs(dir))
	assert.ErrorIs(t, err, ErrStoreUnreachable)
}

func TestLoad_InvalidSpecs(t *testing.T) {
	dir := seedDir(t)
	base := Spec{Name: "sensors", Path: filepath.Join(dir, seed.SensorsFile), Base: true}

	tests := []struct {
		name  string
		specs []Spec
	}{
		{"empty", nil},
		{"bad name", []Spec{{Name: "Sensors-1", Path: base.Path, Base: true}}},
		{"reserved name", []Spec{{Name: "main", Path: base.Path, Base: true}}},
		{"injection name", []Spec{base, {Name: `x" AS y; --`, Path: base.Path, Capability: security.CapRevenue}}},
		{"no base", []Spec{{Name: "revenue", Path: base.Path, Capability: security.CapRevenue}}},
		{"two bases", []Spec{base, {Name: "other", Path: base.Path, Base: true}}},
		{"duplicate", []Spec{base, base}},
		{"unknown capability", []Spec{base, {Name: "hr", Path: base.Path, Capability: "access:hr"}}},
		{"base with capability", []Spec{{Name: "sensors", Path: base.Path, Base: true, Capability: security.CapRevenue}}},
		{"missing path", []Spec{{Name: "sensors", Base: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.specs)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoad_UnknownExposedTable(t *testing.T) {
	dir := seedDir(t)
	specs := DefaultSpecs(dir)
	specs[1].Expose = []string{"nope"}
	_, err := Load(context.Background(), specs)
	assert.ErrorIs(t, err, ErrStoreUnreachable)
}

func TestOwner(t *testing.T) {
	dir := seedDir(t)
	c, err := Load(context.Background(), DefaultSpecs(dir))
	require.NoError(t, err)

	tests := []struct {
		table string
		want  string
		found bool
	}{
		{"maintenance.work_orders", "maintenance", true},
		{"revenue.asset_revenue", "revenue", true},
		{"revenue.anything", "revenue", true},
		{"work_orders", "maintenance", true},
		{"WORK_ORDERS", "maintenance", true},
		{"asset_revenue", "revenue", true},
		{"assets_shared", "sensors", true},
		{"main.sensor_readings", "sensors", true},
		{`"revenue"."asset_revenue"`, "revenue", true},
		{"nonexistent", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			s, ok := c.Owner(tt.table)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, s.Name)
		})
	}
}

func TestReadOnlyURI(t *testing.T) {
	assert.Equal(t, "file:///data/db%201.db?mode=ro", ReadOnlyURI("/data/db 1.db"))
}
