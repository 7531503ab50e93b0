// errors.go - Error types, display and exit codes for fedquery commands.
//
// Commands always return errors; Execute decides how to display them and
// which exit code to use.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/fedquery/internal/answer"
	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/config"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/ollama"
	"github.com/jeranaias/fedquery/internal/outcome"
	"github.com/jeranaias/fedquery/internal/security"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAccessDenied  = 4
	ExitNetworkError  = 5
	ExitSecurityError = 6
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// OutcomeError carries a non-Ok answer out of a command so the process exits
// non-zero. The answer itself has already been printed.
type OutcomeError struct {
	Outcome outcome.Outcome
}

func (e *OutcomeError) Error() string {
	return "answer outcome: " + e.Outcome.String()
}

// NewValidationError creates a validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// outcomeErr returns nil for outcomes a caller treats as success.
func outcomeErr(o outcome.Outcome) error {
	switch o.Kind {
	case outcome.Ok, outcome.Empty:
		return nil
	}
	return &OutcomeError{Outcome: o}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		DisplayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON writes err as a JSON object with a type discriminator.
func DisplayErrorJSON(w io.Writer, err error) {
	output := map[string]any{
		"error":   err.Error(),
		"success": false,
	}

	var (
		verr *ValidationError
		nerr *NotFoundError
		oerr *OutcomeError
	)
	switch {
	case errors.As(err, &verr):
		output["error_type"] = "validation_error"
		output["field"] = verr.Field
		output["value"] = verr.Value
		output["reason"] = verr.Reason
	case errors.As(err, &nerr):
		output["error_type"] = "not_found_error"
		output["resource"] = nerr.Resource
		output["id"] = nerr.ID
	case errors.As(err, &oerr):
		output["error_type"] = "outcome"
		output["outcome"] = oerr.Outcome.Kind.String()
	default:
		output["error_type"] = "generic_error"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		oerr  *OutcomeError
		verr  *ValidationError
		nerr  *NotFoundError
		cverr config.ValidateErrors
	)
	switch {
	case errors.As(err, &oerr):
		switch oerr.Outcome.Kind {
		case outcome.AccessDenied:
			return ExitAccessDenied
		case outcome.Rejected:
			return ExitSecurityError
		}
		return ExitGeneralError
	case errors.Is(err, offline.ErrNonLocalhost), errors.Is(err, offline.ErrCloudBlocked):
		return ExitSecurityError
	case errors.As(err, &verr), errors.Is(err, security.ErrUnknownRole):
		return ExitUsageError
	case errors.As(err, &cverr),
		errors.Is(err, catalog.ErrInvalidCatalog),
		errors.Is(err, catalog.ErrStoreUnreachable):
		return ExitConfigError
	case errors.Is(err, answer.ErrNoGenerator):
		return ExitConfigError
	case ollama.IsNotRunning(err):
		return ExitNetworkError
	case errors.As(err, &nerr), ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return ExitTimeoutError
	}
	return ExitGeneralError
}
