// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package federation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/seed"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	dir     string
	catalog *catalog.Catalog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	_, err := seed.Generate(context.Background(), seed.Options{
		Dir:   dir,
		Sizes: seed.SmallSizes(),
		Seed:  11,
		Now:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	c, err := catalog.Load(context.Background(), catalog.DefaultSpecs(dir))
	require.NoError(t, err)
	return fixture{dir: dir, catalog: c}
}

type countingRecorder struct {
	mu    sync.Mutex
	count map[string]int
}

func (r *countingRecorder) StoreAttached(store string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == nil {
		r.count = map[string]int{}
	}
	r.count[store]++
}

func TestBuild_AttachedSetPerRole(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(fx.catalog)

	tests := []struct {
		role security.Role
		want []string
	}{
		{security.SensorViewer, []string{"sensors"}},
		{security.MaintenanceManager, []string{"sensors", "maintenance"}},
		{security.RevenueAnalyst, []string{"sensors", "revenue"}},
		{security.PlantDirector, []string{"sensors", "maintenance", "revenue"}},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			f, err := b.Build(context.Background(), tt.role)
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, tt.want, f.Attached())
			assert.Equal(t, tt.role, f.Role())
		})
	}
}

func TestBuild_ReachableTablesMatchGrants(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(fx.catalog)

	for _, role := range security.Roles() {
		t.Run(role.String(), func(t *testing.T) {
			f, err := b.Build(context.Background(), role)
			require.NoError(t, err)
			defer f.Close()

			tables, err := f.Tables(context.Background())
			require.NoError(t, err)

			grants := security.GrantsFor(role)
			for _, store := range fx.catalog.ListStores() {
				if store.Base {
					continue
				}
				reachable := false
				for _, tbl := range tables {
					if strings.HasPrefix(tbl, store.Name+".") {
						reachable = true
					}
				}
				assert.Equal(t, grants.Has(store.Capability), reachable, "store %s", store.Name)
			}
			assert.Contains(t, tables, "sensor_readings")
		})
	}
}

func TestBuild_SchemaCoversAttachedOnly(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(fx.catalog)

	f, err := b.Build(context.Background(), security.MaintenanceManager)
	require.NoError(t, err)
	defer f.Close()

	schema := f.Schema()
	assert.Contains(t, schema, "CREATE TABLE sensor_readings")
	assert.Contains(t, schema, "CREATE TABLE maintenance.work_orders")
	assert.NotContains(t, schema, "revenue.asset_revenue")
	assert.True(t, strings.HasPrefix(schema, fx.catalog.Base().Fragment))
}

func TestBuild_QueryOnly(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(fx.catalog)

	f, err := b.Build(context.Background(), security.PlantDirector)
	require.NoError(t, err)
	defer f.Close()

	conn, err := f.Conn()
	require.NoError(t, err)
	_, err = conn.ExecContext(context.Background(), "DELETE FROM maintenance.work_orders")
	assert.Error(t, err)
	_, err = conn.ExecContext(context.Background(), "CREATE TABLE scratch (x)")
	assert.Error(t, err)
}

func TestBuild_UnknownRole(t *testing.T) {
	fx := newFixture(t)
	_, err := NewBuilder(fx.catalog).Build(context.Background(), security.Role(0))
	assert.ErrorIs(t, err, security.ErrUnknownRole)
}

func TestBuild_BaseVanished(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(fx.dir, seed.SensorsFile)))

	_, err := NewBuilder(fx.catalog).Build(context.Background(), security.SensorViewer)
	var be *BuildError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, "sensors", be.Store)
}

func TestBuild_AttachFailure(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(fx.dir, seed.RevenueFile)))

	b := NewBuilder(fx.catalog)
	_, err := b.Build(context.Background(), security.RevenueAnalyst)
	var be *BuildError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, "revenue", be.Store)
	assert.Equal(t, "attach", be.Op)

	// Roles that never attach revenue are unaffected.
	f, err := b.Build(context.Background(), security.MaintenanceManager)
	require.NoError(t, err)
	f.Close()
}

func TestBuild_RecordsAttachments(t *testing.T) {
	fx := newFixture(t)
	rec := &countingRecorder{}
	b := NewBuilder(fx.catalog, WithRecorder(rec))

	f, err := b.Build(context.Background(), security.PlantDirector)
	require.NoError(t, err)
	f.Close()

	assert.Equal(t, map[string]int{"maintenance": 1, "revenue": 1}, rec.count)
}

func TestFederation_CloseIdempotent(t *testing.T) {
	fx := newFixture(t)
	f, err := NewBuilder(fx.catalog).Build(context.Background(), security.SensorViewer)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.Conn()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Tables(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuild_ConcurrentRequestsIsolated(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(fx.catalog)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		role := security.Roles()[i%4]
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := b.Build(context.Background(), role)
			if err != nil {
				errs <- err
				return
			}
			defer f.Close()
			if len(f.Attached()) != 1+security.GrantsFor(role).Len() {
				errs <- errors.New("unexpected attachment count for " + role.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
