// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package federation assembles a per-request, role-scoped SQLite handle: the
// base store opened read-only with every store the role is entitled to
// attached under its logical name.
//
// A store's tables are reachable through a Federation if and only if the
// role holds the store's capability. Unentitled stores are never attached,
// so no query text can reach them.
package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/security"

	_ "modernc.org/sqlite"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrClosed is returned when using a Federation after Close.
var ErrClosed = errors.New("federation closed")

// BuildError reports a failure to open the base store or attach a store.
// It is not retried.
type BuildError struct {
	Store string
	Op    string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("federation: %s %s: %v", e.Op, e.Store, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// =============================================================================
// BUILDER
// =============================================================================

// Recorder receives attachment events. telemetry.Metrics implements it.
type Recorder interface {
	StoreAttached(store string)
}

// Builder creates federations from a loaded catalog.
type Builder struct {
	catalog  *catalog.Catalog
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRecorder sets a recorder for attachment events.
func WithRecorder(r Recorder) Option {
	return func(b *Builder) { b.recorder = r }
}

// NewBuilder returns a builder over c.
func NewBuilder(c *catalog.Catalog, opts ...Option) *Builder {
	b := &Builder{catalog: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Catalog returns the catalog the builder draws on.
func (b *Builder) Catalog() *catalog.Catalog {
	return b.catalog
}

// Build opens a fresh federation for role. The caller must Close it.
// An unknown role returns security.ErrUnknownRole; store failures return a
// *BuildError.
func (b *Builder) Build(ctx context.Context, role security.Role) (*Federation, error) {
	grants, err := security.Resolve(role)
	if err != nil {
		return nil, err
	}

	base := b.catalog.Base()
	db, err := sql.Open("sqlite", base.URI())
	if err != nil {
		return nil, &BuildError{Store: base.Name, Op: "open", Err: err}
	}
	// One connection: ATTACH and PRAGMA are per connection.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &BuildError{Store: base.Name, Op: "open", Err: err}
	}

	f := &Federation{
		db:     db,
		conn:   conn,
		role:   role,
		grants: grants,
		stores: []catalog.Store{base},
	}

	// Touch the base schema so an unreadable base file fails here rather
	// than on the first query.
	var objects int
	if err := conn.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&objects); err != nil {
		f.Close()
		return nil, &BuildError{Store: base.Name, Op: "open", Err: err}
	}

	for _, s := range b.catalog.ListStores() {
		if s.Base || !grants.Has(s.Capability) {
			continue
		}
		// Name is validated as an identifier at catalog load.
		stmt := fmt.Sprintf(`ATTACH DATABASE ? AS "%s"`, s.Name)
		if _, err := conn.ExecContext(ctx, stmt, s.URI()); err != nil {
			f.Close()
			return nil, &BuildError{Store: s.Name, Op: "attach", Err: err}
		}
		f.stores = append(f.stores, s)
		if b.recorder != nil {
			b.recorder.StoreAttached(s.Name)
		}
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		f.Close()
		return nil, &BuildError{Store: base.Name, Op: "set query_only on", Err: err}
	}

	b.logger.Debug("FEDERATION_BUILT",
		zap.Stringer("role", role),
		zap.Stringer("grants", grants),
		zap.Strings("stores", f.Attached()))
	return f, nil
}

// =============================================================================
// FEDERATION
// =============================================================================

// Federation is a single-request handle. It is not safe for concurrent use
// by multiple queries and must not outlive the request.
type Federation struct {
	db     *sql.DB
	conn   *sql.Conn
	role   security.Role
	grants security.Grants
	stores []catalog.Store

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

// Role returns the role the federation was built for.
func (f *Federation) Role() security.Role { return f.role }

// Grants returns the capabilities of the federation's role.
func (f *Federation) Grants() security.Grants { return f.grants }

// Attached returns the logical names of the stores in the federation, base
// first, then catalog order.
func (f *Federation) Attached() []string {
	names := make([]string, len(f.stores))
	for i, s := range f.stores {
		names[i] = s.Name
	}
	return names
}

// Stores returns the stores in the federation.
func (f *Federation) Stores() []catalog.Store {
	return append([]catalog.Store(nil), f.stores...)
}

// Schema returns the schema text for exactly the attached stores.
func (f *Federation) Schema() string {
	parts := make([]string, 0, len(f.stores))
	for _, s := range f.stores {
		if s.Fragment != "" {
			parts = append(parts, s.Fragment)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conn returns the underlying connection, or ErrClosed.
func (f *Federation) Conn() (*sql.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.conn, nil
}

// Tables lists every table reachable through the federation. Base tables
// are unqualified; attached tables are "<store>.<table>".
func (f *Federation) Tables(ctx context.Context) ([]string, error) {
	conn, err := f.Conn()
	if err != nil {
		return nil, err
	}

	schemas, err := attachedSchemas(ctx, conn)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, schema := range schemas {
		q := fmt.Sprintf(`SELECT name FROM "%s".sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%'`, schema)
		rows, err := conn.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables of %s: %w", schema, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			if schema != "main" {
				name = schema + "." + name
			}
			out = append(out, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func attachedSchemas(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, err
		}
		if name == "temp" {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close releases the connection and the private database handle. It is
// safe to call more than once.
func (f *Federation) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		var errs []error
		if f.conn != nil {
			errs = append(errs, f.conn.Close())
		}
		if f.db != nil {
			errs = append(errs, f.db.Close())
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
