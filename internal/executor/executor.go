// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs a validated query against a federation and
// materializes the result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"

	"github.com/jeranaias/fedquery/internal/federation"
)

// Defaults.
const (
	DefaultMaxRows = 1000
	DefaultTimeout = 30 * time.Second
)

// ExecError is a store error captured during execution. Code is the SQLite
// primary result code when the driver reports one, else 0.
type ExecError struct {
	Code    int
	Message string
}

func (e *ExecError) Error() string {
	return e.Message
}

// Result is the materialized outcome of one execution. Exactly one of Rows
// (possibly empty) or Err is meaningful.
type Result struct {
	Query     string
	Columns   []string
	Rows      []Row
	Truncated bool
	Err       *ExecError
	Duration  time.Duration
}

// Failed reports whether the store returned an error.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// Config configures an Executor.
type Config struct {
	// MaxRows caps materialized rows. Zero means DefaultMaxRows; negative
	// means no cap.
	MaxRows int
	// Timeout bounds each execution. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Executor runs queries. It holds no per-request state and is safe for
// concurrent use across federations.
type Executor struct {
	maxRows int
	timeout time.Duration
	logger  *zap.Logger
}

// New returns an Executor.
func New(cfg Config) *Executor {
	e := &Executor{maxRows: cfg.MaxRows, timeout: cfg.Timeout, logger: cfg.Logger}
	if e.maxRows == 0 {
		e.maxRows = DefaultMaxRows
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Execute runs query on fed. Store errors are returned inside the Result,
// never retried; the returned error is only for misuse (closed federation)
// or caller cancellation.
func (e *Executor) Execute(ctx context.Context, query string, fed *federation.Federation) (*Result, error) {
	conn, err := fed.Conn()
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res := &Result{Query: query}
	defer func() { res.Duration = time.Since(start) }()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		if perr := parent.Err(); perr != nil {
			return nil, fmt.Errorf("query interrupted: %w", perr)
		}
		res.Err = e.toExecError(ctx, err)
		e.logger.Debug("QUERY_FAILED", zap.String("query", query), zap.Error(err))
		return res, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		res.Err = e.toExecError(ctx, err)
		return res, nil
	}
	res.Columns = cols
	res.Rows = []Row{}

	for rows.Next() {
		if e.maxRows > 0 && len(res.Rows) >= e.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			res.Err = e.toExecError(ctx, err)
			res.Rows = nil
			return res, nil
		}
		row := make(Row, len(cols))
		for i, name := range cols {
			row[i] = Field{Name: name, Value: normalize(vals[i])}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		if perr := parent.Err(); perr != nil {
			return nil, fmt.Errorf("query interrupted: %w", perr)
		}
		res.Err = e.toExecError(ctx, err)
		res.Rows = nil
	}
	return res, nil
}

func (e *Executor) toExecError(ctx context.Context, err error) *ExecError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecError{Message: fmt.Sprintf("query timed out after %s", e.timeout)}
	}
	ee := &ExecError{Message: err.Error()}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// Extended codes carry the primary code in the low byte.
		ee.Code = se.Code() & 0xff
	}
	return ee
}

// normalize converts driver values to JSON-friendly types.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
