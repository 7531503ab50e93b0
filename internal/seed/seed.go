// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package seed generates the synthetic plant datasets: a sensor store, a
// maintenance store and a revenue store. The stores share overlapping asset
// and employee master data so cross-store joins return rows.
package seed

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"
)

// =============================================================================
// FILE NAMES
// =============================================================================

// Store file names inside the data directory.
const (
	SensorsFile     = "db1_sensors.db"
	MaintenanceFile = "db2_maintenance.db"
	RevenueFile     = "db3_revenue.db"
)

// timeLayout matches the text form SQLite date functions accept.
const timeLayout = "2006-01-02 15:04:05.000000"

// =============================================================================
// OPTIONS
// =============================================================================

// Sizes controls how many rows each generated table holds.
type Sizes struct {
	Assets      int
	Employees   int
	CoreOverlap int // assets/employees present in every store
	SensorRows  int
	WorkOrders  int
	RevenueRows int
}

// DefaultSizes matches the demo dataset.
func DefaultSizes() Sizes {
	return Sizes{
		Assets:      100,
		Employees:   200,
		CoreOverlap: 20,
		SensorRows:  50000,
		WorkOrders:  2000,
		RevenueRows: 1000,
	}
}

// SmallSizes is a fast dataset for tests.
func SmallSizes() Sizes {
	return Sizes{
		Assets:      30,
		Employees:   40,
		CoreOverlap: 5,
		SensorRows:  300,
		WorkOrders:  60,
		RevenueRows: 40,
	}
}

func (s Sizes) validate() error {
	switch {
	case s.Assets <= 0 || s.Employees <= 0:
		return errors.New("assets and employees must be positive")
	case s.CoreOverlap < 0 || s.CoreOverlap > s.Assets/2 || s.CoreOverlap > s.Employees/2:
		return fmt.Errorf("core overlap %d must be between 0 and half the master data", s.CoreOverlap)
	case s.SensorRows < 0 || s.WorkOrders < 0 || s.RevenueRows < 0:
		return errors.New("row counts must not be negative")
	}
	return nil
}

// Options configures Generate.
type Options struct {
	Dir    string
	Sizes  Sizes
	Seed   uint64
	Now    time.Time // reference time for timestamps; zero means time.Now()
	Logger *zap.Logger
}

// Report describes a finished generation run.
type Report struct {
	Paths  map[string]string // store name -> file path
	Counts map[string]int    // table -> rows written
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate writes the three store files into opts.Dir, replacing existing
// files. Stores are built concurrently; output is deterministic for a given
// seed, sizes and reference time.
func Generate(ctx context.Context, opts Options) (*Report, error) {
	if opts.Dir == "" {
		return nil, errors.New("seed: data directory is required")
	}
	if opts.Sizes == (Sizes{}) {
		opts.Sizes = DefaultSizes()
	}
	if err := opts.Sizes.validate(); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	md := newMaster(opts.Sizes, rand.New(rand.NewPCG(opts.Seed, 0)))

	paths := map[string]string{
		"sensors":     filepath.Join(opts.Dir, SensorsFile),
		"maintenance": filepath.Join(opts.Dir, MaintenanceFile),
		"revenue":     filepath.Join(opts.Dir, RevenueFile),
	}
	builders := []struct {
		store  string
		stream uint64
		build  func(ctx context.Context, db *sql.DB, m *master, rng *rand.Rand, opts Options) (map[string]int, error)
	}{
		{"sensors", 1, buildSensors},
		{"maintenance", 2, buildMaintenance},
		{"revenue", 3, buildRevenue},
	}

	results := make([]map[string]int, len(builders))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range builders {
		g.Go(func() error {
			start := time.Now()
			counts, err := writeStore(gctx, paths[b.store], func(db *sql.DB) (map[string]int, error) {
				return b.build(gctx, db, md, rand.New(rand.NewPCG(opts.Seed, b.stream)), opts)
			})
			if err != nil {
				return fmt.Errorf("seed %s: %w", b.store, err)
			}
			results[i] = counts
			logger.Info("SEED_STORE_WRITTEN",
				zap.String("store", b.store),
				zap.String("path", paths[b.store]),
				zap.Duration("duration", time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Paths: paths, Counts: map[string]int{}}
	for _, counts := range results {
		for table, n := range counts {
			// Shared master tables are written to several stores; keep the
			// base store's count.
			if _, seen := report.Counts[table]; !seen {
				report.Counts[table] = n
			}
		}
	}
	return report, nil
}

// writeStore recreates the file at path and runs build against it.
func writeStore(ctx context.Context, path string, build func(*sql.DB) (map[string]int, error)) (map[string]int, error) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return build(db)
}

// =============================================================================
// MASTER DATA
// =============================================================================

type asset struct {
	ID          string
	Name        string
	Location    string
	Department  string
	Criticality string
}

type employee struct {
	ID             string
	Name           string
	Role           string
	ClearanceLevel string
}

type master struct {
	sizes     Sizes
	assets    []asset
	employees []employee
}

var (
	machineWords = []string{"Atlas", "Boreas", "Cobalt", "Delta", "Ember", "Falcon", "Granite", "Helix", "Ion", "Jade", "Kestrel", "Lumen", "Magnet", "Nova", "Orbit", "Piston", "Quartz", "Rivet", "Sprocket", "Titan"}
	firstNames   = []string{"Alex", "Bianca", "Carlos", "Dana", "Elif", "Farah", "Gus", "Hana", "Ivan", "Jun", "Kofi", "Lena", "Mateo", "Nia", "Omar", "Priya", "Quinn", "Rosa", "Sven", "Tariq"}
	lastNames    = []string{"Adams", "Brandt", "Chen", "Diaz", "Eriksen", "Fischer", "Garcia", "Haddad", "Ito", "Jensen", "Kumar", "Larsen", "Moreau", "Nakamura", "Okafor", "Petrov", "Rossi", "Sato", "Tanaka", "Weber"}
)

func newMaster(s Sizes, rng *rand.Rand) *master {
	m := &master{sizes: s}
	for i := 1; i <= s.Assets; i++ {
		m.assets = append(m.assets, asset{
			ID:          fmt.Sprintf("AST-%03d", i),
			Name:        fmt.Sprintf("Machine-%s-%d", pick(rng, machineWords), i),
			Location:    pick(rng, []string{"Plant-Austin", "Plant-Berlin", "Plant-Tokyo"}),
			Department:  pick(rng, []string{"Assembly", "Welding", "Painting", "Packaging"}),
			Criticality: weighted(rng, []string{"High", "Medium", "Low"}, []float64{0.2, 0.5, 0.3}),
		})
	}
	for i := 1; i <= s.Employees; i++ {
		m.employees = append(m.employees, employee{
			ID:             fmt.Sprintf("EMP-%03d", i),
			Name:           pick(rng, firstNames) + " " + pick(rng, lastNames),
			Role:           weighted(rng, []string{"Operator", "Technician", "Engineer", "Manager"}, []float64{0.4, 0.3, 0.2, 0.1}),
			ClearanceLevel: weighted(rng, []string{"L1", "L2", "L3", "L4"}, []float64{0.4, 0.3, 0.2, 0.1}),
		})
	}
	return m
}

// subset returns the first core items plus a random sample of the rest, size
// items in total.
func subset[T any](rng *rand.Rand, all []T, core, size int) []T {
	if size > len(all) {
		size = len(all)
	}
	if size < core {
		size = core
	}
	out := append([]T(nil), all[:core]...)
	rest := all[core:]
	for _, i := range rng.Perm(len(rest))[:size-core] {
		out = append(out, rest[i])
	}
	return out
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

func weighted(rng *rand.Rand, items []string, weights []float64) string {
	x := rng.Float64()
	for i, w := range weights {
		if x < w {
			return items[i]
		}
		x -= w
	}
	return items[len(items)-1]
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// =============================================================================
// STORE BUILDERS
// =============================================================================

func buildSensors(ctx context.Context, db *sql.DB, m *master, rng *rand.Rand, opts Options) (map[string]int, error) {
	assets := subset(rng, m.assets, m.sizes.CoreOverlap, m.sizes.Assets*8/10)
	if err := writeAssets(ctx, db, assets); err != nil {
		return nil, err
	}
	if err := writeEmployees(ctx, db, m.employees); err != nil {
		return nil, err
	}

	const ddl = `CREATE TABLE sensor_readings (
	reading_id INTEGER,
	asset_id TEXT,
	timestamp TIMESTAMP,
	temperature REAL,
	vibration REAL
)`
	n := m.sizes.SensorRows
	err := insertRows(ctx, db, ddl, "INSERT INTO sensor_readings VALUES (?, ?, ?, ?, ?)", n, func(i int) []any {
		temp := rng.NormFloat64()*5 + 75
		vib := rng.ExpFloat64() * 1.5
		if vib > 5.0 {
			temp += 20
		}
		ts := opts.Now.Add(-time.Duration(i*5) * time.Minute)
		return []any{i + 1, pick(rng, assets).ID, ts.Format(timeLayout), temp, vib}
	})
	if err != nil {
		return nil, err
	}
	return map[string]int{"assets_shared": len(assets), "employees_shared": len(m.employees), "sensor_readings": n}, nil
}

func buildMaintenance(ctx context.Context, db *sql.DB, m *master, rng *rand.Rand, opts Options) (map[string]int, error) {
	assets := subset(rng, m.assets, m.sizes.CoreOverlap, m.sizes.Assets*6/10)
	employees := subset(rng, m.employees, m.sizes.CoreOverlap, m.sizes.Employees/2)
	if err := writeAssets(ctx, db, assets); err != nil {
		return nil, err
	}
	if err := writeEmployees(ctx, db, employees); err != nil {
		return nil, err
	}

	const ddl = `CREATE TABLE work_orders (
	order_id TEXT,
	asset_id TEXT,
	employee_id TEXT,
	status TEXT,
	priority TEXT,
	cost REAL,
	date_logged TIMESTAMP
)`
	n := m.sizes.WorkOrders
	err := insertRows(ctx, db, ddl, "INSERT INTO work_orders VALUES (?, ?, ?, ?, ?, ?, ?)", n, func(i int) []any {
		logged := opts.Now.AddDate(0, 0, -rng.IntN(365))
		return []any{
			fmt.Sprintf("WO-%d", 1000+i),
			pick(rng, assets).ID,
			pick(rng, employees).ID,
			weighted(rng, []string{"Open", "In Progress", "Closed", "Blocked"}, []float64{0.1, 0.2, 0.6, 0.1}),
			pick(rng, []string{"Critical", "High", "Medium", "Low"}),
			round2(math.Exp(6 + 0.5*rng.NormFloat64())),
			logged.Format(timeLayout),
		}
	})
	if err != nil {
		return nil, err
	}
	return map[string]int{"assets_shared": len(assets), "employees_shared": len(employees), "work_orders": n}, nil
}

func buildRevenue(ctx context.Context, db *sql.DB, m *master, rng *rand.Rand, opts Options) (map[string]int, error) {
	assets := subset(rng, m.assets, m.sizes.CoreOverlap, m.sizes.Assets/2)
	if err := writeAssets(ctx, db, assets); err != nil {
		return nil, err
	}

	const ddl = `CREATE TABLE asset_revenue (
	revenue_id TEXT,
	asset_id TEXT,
	quarter TEXT,
	amount_usd REAL,
	region TEXT
)`
	n := m.sizes.RevenueRows
	err := insertRows(ctx, db, ddl, "INSERT INTO asset_revenue VALUES (?, ?, ?, ?, ?)", n, func(i int) []any {
		a := pick(rng, assets)
		base := 10000.0
		if a.Criticality == "High" {
			base = 50000
		}
		// Random-source UUID keeps ids deterministic for a seed.
		var raw [16]byte
		for j := range raw {
			raw[j] = byte(rng.UintN(256))
		}
		id, _ := uuid.NewRandomFromReader(bytes.NewReader(raw[:]))
		return []any{
			id.String()[:8],
			a.ID,
			pick(rng, []string{"2024-Q1", "2024-Q2", "2024-Q3", "2024-Q4"}),
			round2(rng.NormFloat64()*5000 + base),
			pick(rng, []string{"North America", "EMEA", "APAC"}),
		}
	})
	if err != nil {
		return nil, err
	}
	return map[string]int{"assets_shared": len(assets), "asset_revenue": n}, nil
}

func writeAssets(ctx context.Context, db *sql.DB, assets []asset) error {
	const ddl = `CREATE TABLE assets_shared (
	asset_id TEXT,
	name TEXT,
	location TEXT,
	department TEXT,
	criticality TEXT
)`
	return insertRows(ctx, db, ddl, "INSERT INTO assets_shared VALUES (?, ?, ?, ?, ?)", len(assets), func(i int) []any {
		a := assets[i]
		return []any{a.ID, a.Name, a.Location, a.Department, a.Criticality}
	})
}

func writeEmployees(ctx context.Context, db *sql.DB, employees []employee) error {
	const ddl = `CREATE TABLE employees_shared (
	employee_id TEXT,
	name TEXT,
	role TEXT,
	clearance_level TEXT
)`
	return insertRows(ctx, db, ddl, "INSERT INTO employees_shared VALUES (?, ?, ?, ?)", len(employees), func(i int) []any {
		e := employees[i]
		return []any{e.ID, e.Name, e.Role, e.ClearanceLevel}
	})
}

// insertRows creates a table and fills it with n rows in one transaction.
func insertRows(ctx context.Context, db *sql.DB, ddl, insert string, n int, row func(i int) []any) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}
