// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the fixed set of SQLite stores a federation can draw
// on. The catalog is loaded and introspected once at startup; after that it
// is read-only and shared by every request.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/seed"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCatalog is returned for a malformed store list.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrStoreUnreachable is returned when a store file cannot be opened or
	// introspected at load time.
	ErrStoreUnreachable = errors.New("store unreachable")
)

// nameRe restricts logical names to identifiers safe to use verbatim as an
// attached schema name.
var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedNames are schema names SQLite already uses.
var reservedNames = map[string]bool{"main": true, "temp": true}

// =============================================================================
// TYPES
// =============================================================================

// Spec describes one store before it is loaded.
type Spec struct {
	Name       string
	Path       string
	Capability security.Capability
	Base       bool
	// Expose limits the tables described in the schema fragment. Empty
	// means every table.
	Expose []string
}

// Store is a loaded, introspected store.
type Store struct {
	Name       string
	Location   string // absolute path
	Capability security.Capability
	Base       bool
	Tables     []string // every table in the file, sorted
	Expose     []string // tables described in Fragment
	Fragment   string   // schema text with sample rows
}

// URI returns the read-only SQLite URI for the store.
func (s Store) URI() string {
	return ReadOnlyURI(s.Location)
}

// HasTable reports whether the store contains table (case-insensitive).
func (s Store) HasTable(table string) bool {
	for _, t := range s.Tables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

// Catalog is the immutable, ordered store list.
type Catalog struct {
	stores []Store
	byName map[string]int
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSpecs returns the plant catalog rooted at dataDir: the sensor store
// as base, then maintenance and revenue.
func DefaultSpecs(dataDir string) []Spec {
	return []Spec{
		{Name: "sensors", Path: filepath.Join(dataDir, seed.SensorsFile), Base: true},
		{Name: "maintenance", Path: filepath.Join(dataDir, seed.MaintenanceFile), Capability: security.CapMaintenance, Expose: []string{"work_orders"}},
		{Name: "revenue", Path: filepath.Join(dataDir, seed.RevenueFile), Capability: security.CapRevenue, Expose: []string{"asset_revenue"}},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	logger     *zap.Logger
	sampleRows int
}

// WithLogger sets the logger used during load.
func WithLogger(l *zap.Logger) Option {
	return func(o *loadOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSampleRows sets how many sample rows each fragment shows.
func WithSampleRows(n int) Option {
	return func(o *loadOptions) {
		if n >= 0 {
			o.sampleRows = n
		}
	}
}

// Load validates specs, checks every store is reachable, and introspects
// each one. Any failure is fatal: a catalog is either fully loaded or not at
// all.
func Load(ctx context.Context, specs []Spec, opts ...Option) (*Catalog, error) {
	o := loadOptions{logger: zap.NewNop(), sampleRows: SampleRows}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	c := &Catalog{byName: make(map[string]int, len(specs))}
	for _, spec := range specs {
		store, err := loadStore(ctx, spec, o.sampleRows)
		if err != nil {
			return nil, err
		}
		o.logger.Info("STORE_LOADED",
			zap.String("store", store.Name),
			zap.String("path", store.Location),
			zap.Bool("base", store.Base),
			zap.Strings("tables", store.Tables))
		c.byName[store.Name] = len(c.stores)
		c.stores = append(c.stores, store)
	}

	// Base store first, then the rest in the order given.
	for i, s := range c.stores {
		if s.Base && i != 0 {
			base := c.stores[i]
			copy(c.stores[1:i+1], c.stores[0:i])
			c.stores[0] = base
			for j, st := range c.stores {
				c.byName[st.Name] = j
			}
			break
		}
	}
	return c, nil
}

func validateSpecs(specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no stores configured", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(specs))
	bases := 0
	for _, s := range specs {
		if !nameRe.MatchString(s.Name) || reservedNames[s.Name] {
			return fmt.Errorf("%w: store name %q must match %s and not be reserved", ErrInvalidCatalog, s.Name, nameRe)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate store name %q", ErrInvalidCatalog, s.Name)
		}
		seen[s.Name] = true
		if s.Path == "" {
			return fmt.Errorf("%w: store %q has no path", ErrInvalidCatalog, s.Name)
		}
		if s.Base {
			bases++
			if s.Capability != "" {
				return fmt.Errorf("%w: base store %q cannot require a capability", ErrInvalidCatalog, s.Name)
			}
			continue
		}
		if !security.KnownCapability(s.Capability) {
			return fmt.Errorf("%w: store %q has unknown capability %q", ErrInvalidCatalog, s.Name, s.Capability)
		}
	}
	if bases != 1 {
		return fmt.Errorf("%w: exactly one base store required, found %d", ErrInvalidCatalog, bases)
	}
	return nil
}

func loadStore(ctx context.Context, spec Spec, sampleRows int) (Store, error) {
	abs, err := filepath.Abs(spec.Path)
	if err != nil {
		return Store{}, fmt.Errorf("%w: %s: %w", ErrStoreUnreachable, spec.Name, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Store{}, fmt.Errorf("%w: %s: %w", ErrStoreUnreachable, spec.Name, err)
	}
	if info.IsDir() {
		return Store{}, fmt.Errorf("%w: %s: %s is a directory", ErrStoreUnreachable, spec.Name, abs)
	}

	store := Store{
		Name:       spec.Name,
		Location:   abs,
		Capability: spec.Capability,
		Base:       spec.Base,
	}
	qualifier := spec.Name
	if spec.Base {
		qualifier = ""
	}
	if err := introspect(ctx, &store, spec.Expose, qualifier, sampleRows); err != nil {
		return Store{}, fmt.Errorf("%w: %s: %w", ErrStoreUnreachable, spec.Name, err)
	}
	return store, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListStores returns the stores in catalog order, base first.
func (c *Catalog) ListStores() []Store {
	out := make([]Store, len(c.stores))
	copy(out, c.stores)
	return out
}

// Base returns the base store.
func (c *Catalog) Base() Store {
	return c.stores[0]
}

// Store returns the store with the given logical name.
func (c *Catalog) Store(name string) (Store, bool) {
	i, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return Store{}, false
	}
	return c.stores[i], true
}

// Owner resolves a table reference to the store that holds it. A qualified
// name ("maintenance.work_orders") resolves by schema name; "main" is the
// base store. An unqualified name resolves to the base store if it has the
// table, else to the first non-base store that does.
func (c *Catalog) Owner(table string) (Store, bool) {
	table = strings.Trim(strings.TrimSpace(table), "`\"[]")
	if schema, name, ok := strings.Cut(table, "."); ok {
		schema = strings.ToLower(strings.Trim(schema, "`\"[]"))
		if schema == "main" {
			return c.Base(), true
		}
		if s, ok := c.Store(schema); ok {
			return s, true
		}
		table = strings.Trim(name, "`\"[]")
	}
	for _, s := range c.stores {
		if s.HasTable(table) {
			return s, true
		}
	}
	return Store{}, false
}

// ReadOnlyURI builds a read-only SQLite URI for an absolute file path.
func ReadOnlyURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}
	return u.String()
}
