// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package outcome maps execution results to the outcomes a caller sees.
// Raw store errors never leave this package except as the detail of an
// InternalError.
package outcome

import (
	"fmt"

	"github.com/jeranaias/fedquery/internal/executor"
	"github.com/jeranaias/fedquery/internal/security"
)

// Kind is the category of an answer.
type Kind int

const (
	// Ok carries rows.
	Ok Kind = iota
	// AccessDenied names a store the role is not entitled to.
	AccessDenied
	// InvalidQuery means the query was well-formed for the gate but wrong
	// for the schema.
	InvalidQuery
	// Empty means the query ran and matched nothing.
	Empty
	// InternalError carries an unclassified failure.
	InternalError
	// Rejected means the safety gate refused the query; it never ran.
	Rejected
)

var kindNames = [...]string{"Ok", "AccessDenied", "InvalidQuery", "Empty", "InternalError", "Rejected"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// InvalidQuery reasons.
const (
	ReasonTableNotFound   = "table not found"
	ReasonInvalidColumn   = "invalid column"
	ReasonSyntaxError     = "syntax error"
	ReasonAmbiguousColumn = "ambiguous column"
)

// Outcome is the classified result of one request.
type Outcome struct {
	Kind Kind `json:"kind"`
	// Store is set for AccessDenied.
	Store string `json:"store,omitempty"`
	// Reason is set for InvalidQuery and Rejected.
	Reason string `json:"reason,omitempty"`
	// Detail is the raw error text for InternalError.
	Detail    string         `json:"detail,omitempty"`
	Columns   []string       `json:"columns,omitempty"`
	Rows      []executor.Row `json:"rows,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Constructors.

func NewOk(columns []string, rows []executor.Row, truncated bool) Outcome {
	return Outcome{Kind: Ok, Columns: columns, Rows: rows, Truncated: truncated}
}

func NewAccessDenied(store string) Outcome {
	return Outcome{Kind: AccessDenied, Store: store}
}

func NewInvalidQuery(reason string) Outcome {
	return Outcome{Kind: InvalidQuery, Reason: reason}
}

func NewEmpty(columns []string) Outcome {
	return Outcome{Kind: Empty, Columns: columns}
}

func NewInternalError(detail string) Outcome {
	return Outcome{Kind: InternalError, Detail: detail}
}

func NewRejected(reason string) Outcome {
	return Outcome{Kind: Rejected, Reason: reason}
}

// Message renders the user-facing text for the outcome.
func (o Outcome) Message(role security.Role) string {
	switch o.Kind {
	case Ok:
		msg := fmt.Sprintf("Results: %d rows", len(o.Rows))
		if o.Truncated {
			msg += " (truncated)"
		}
		return msg
	case AccessDenied:
		return fmt.Sprintf("Access denied: Your role (%s) cannot access %s data.", role, o.Store)
	case InvalidQuery:
		switch o.Reason {
		case ReasonInvalidColumn:
			return "Invalid column. Please rephrase your question."
		case ReasonSyntaxError:
			return "SQL syntax error. Please rephrase your question."
		case ReasonAmbiguousColumn:
			return "Ambiguous column reference. Please be more specific."
		default:
			return "Table not found. Please verify your query."
		}
	case Empty:
		return "No data found."
	case InternalError:
		return "Database error: " + o.Detail
	case Rejected:
		return "Security alert: " + o.Reason
	}
	return o.Kind.String()
}

// String is a compact form for logs.
func (o Outcome) String() string {
	switch o.Kind {
	case AccessDenied:
		return "AccessDenied(" + o.Store + ")"
	case InvalidQuery, Rejected:
		return o.Kind.String() + "(" + o.Reason + ")"
	case Ok:
		return fmt.Sprintf("Ok(%d rows)", len(o.Rows))
	}
	return o.Kind.String()
}

// Summary returns the outcome detail worth recording in an audit line.
func (o Outcome) Summary() string {
	switch o.Kind {
	case AccessDenied:
		return o.Store
	case InvalidQuery, Rejected:
		return o.Reason
	case InternalError:
		return o.Detail
	}
	return ""
}
