// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package outcome

import (
	"regexp"
	"strings"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/security"
)

// Owners resolves tables to the stores that hold them. *catalog.Catalog
// implements it.
type Owners interface {
	Owner(table string) (catalog.Store, bool)
	ListStores() []catalog.Store
}

var missingTableRe = regexp.MustCompile("no such table: ([A-Za-z0-9_.\"`\\[\\]]+)")

// Classify maps an execution result to an Outcome. Precedence, first match
// wins:
//
//  1. a structured error code other than SQLITE_ERROR: InternalError
//  2. "no such table": AccessDenied(owner) when the owning store's
//     capability is not held, else InvalidQuery(table not found)
//  3. "no such column": InvalidQuery(invalid column)
//  4. "syntax error": InvalidQuery(syntax error)
//  5. "ambiguous": InvalidQuery(ambiguous column)
//  6. any other error: InternalError
//  7. no rows: Empty
//  8. rows: Ok
func Classify(res *executor.Result, grants security.Grants, owners Owners) Outcome {
	if res == nil {
		return NewInternalError("no result")
	}
	if res.Err == nil {
		if len(res.Rows) == 0 {
			return NewEmpty(res.Columns)
		}
		return NewOk(res.Columns, res.Rows, res.Truncated)
	}

	raw := res.Err.Message
	if res.Err.Code != 0 && res.Err.Code != sqlite3.SQLITE_ERROR {
		return NewInternalError(raw)
	}

	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "no such table"):
		if store, ok := missingTableOwner(msg, owners); ok && !grants.Has(store.Capability) {
			return NewAccessDenied(store.Name)
		}
		return NewInvalidQuery(ReasonTableNotFound)
	case strings.Contains(msg, "no such column"):
		return NewInvalidQuery(ReasonInvalidColumn)
	case strings.Contains(msg, "syntax error"):
		return NewInvalidQuery(ReasonSyntaxError)
	case strings.Contains(msg, "ambiguous"):
		return NewInvalidQuery(ReasonAmbiguousColumn)
	}
	return NewInternalError(raw)
}

// missingTableOwner finds the store that owns the table named in a
// "no such table" message. When the name cannot be extracted it falls back
// to looking for any non-base store or table name in the message.
func missingTableOwner(msg string, owners Owners) (catalog.Store, bool) {
	if owners == nil {
		return catalog.Store{}, false
	}
	if m := missingTableRe.FindStringSubmatch(msg); m != nil {
		return owners.Owner(m[1])
	}
	for _, s := range owners.ListStores() {
		if s.Base {
			continue
		}
		if strings.Contains(msg, s.Name) {
			return s, true
		}
		for _, t := range s.Expose {
			if strings.Contains(msg, strings.ToLower(t)) {
				return s, true
			}
		}
	}
	return catalog.Store{}, false
}
