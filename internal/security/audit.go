// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/fedquery/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxQueryLength is the maximum length of query text kept in an audit line.
const MaxQueryLength = 200

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Audit event types.
const (
	EventAnswer   = "ANSWER"
	EventQuery    = "QUERY"
	EventRejected = "REJECTED"
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventCheck    = "CHECK"
)

// ErrAuditClosed is returned when logging to a closed audit logger.
var ErrAuditClosed = errors.New("audit log closed")

// =============================================================================
// AUDIT EVENT
// =============================================================================

// AuditEvent is a single audit record for one request.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id"`
	Role      string            `json:"role,omitempty"`
	Question  string            `json:"question,omitempty"` // Truncated/redacted
	Query     string            `json:"query,omitempty"`    // Truncated/redacted
	Outcome   string            `json:"outcome,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Rows      int               `json:"rows,omitempty"`
	Duration  time.Duration     `json:"duration_ns,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToLogLine formats the event as a single pipe-separated line:
//
//	timestamp | EVENT | request_id | role | "question" | "query" | rows | duration | outcome[: detail]
func (e *AuditEvent) ToLogLine() string {
	timestamp := e.Timestamp.Format("2006-01-02 15:04:05")

	question := ""
	if e.Question != "" {
		question = fmt.Sprintf("%q", e.Question)
	}

	query := ""
	if e.Query != "" {
		query = fmt.Sprintf("%q", e.Query)
	}

	rows := ""
	if e.Rows > 0 {
		rows = fmt.Sprintf("%d", e.Rows)
	}

	dur := ""
	if e.Duration > 0 {
		dur = e.Duration.Round(time.Millisecond).String()
	}

	status := e.Outcome
	if e.Detail != "" {
		status = fmt.Sprintf("%s: %s", e.Outcome, e.Detail)
	}

	return fmt.Sprintf("%s | %s | %s | %s | %s | %s | %s | %s | %s",
		timestamp,
		e.EventType,
		e.RequestID,
		e.Role,
		question,
		query,
		rows,
		dur,
		status,
	)
}

// =============================================================================
// REDACTION
// =============================================================================

// Redactor replaces sensitive data in text before it is written.
type Redactor interface {
	Redact(input string) string
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

// Redact replaces matches with the replacement string.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string {
	return r.name
}

var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"GoogleAPI", regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), "[GOOGLE_KEY_REDACTED]"},
	{"OpenAI", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[OPENAI_KEY_REDACTED]"},
	{"AWS", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

// AuditFailureCallback is called synchronously when a write fails.
type AuditFailureCallback func(err error)

// AuditLogger appends audit events to a file with secret redaction. It is
// safe for concurrent use. A failed write is reported to the callback and
// returned, but does not disable the logger: answers are read-only, so a
// missing audit line never hides a state change.
type AuditLogger struct {
	path      string
	file      *os.File
	mu        sync.Mutex
	enabled   bool
	maxSize   int64
	redactors []Redactor

	failureCount int
	lastFailure  error
	onFailure    AuditFailureCallback
}

// DefaultAuditPath returns ~/.fedquery/audit.log.
func DefaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fedquery", "audit.log")
	}
	return filepath.Join(home, ".fedquery", "audit.log")
}

// NewAuditLogger opens (or creates) the audit log at path for appending.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		path = DefaultAuditPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &AuditLogger{
		path:      path,
		file:      file,
		enabled:   true,
		maxSize:   DefaultMaxFileSize,
		redactors: defaultRedactors(),
	}, nil
}

// Log writes one event. Free-text fields are redacted and truncated to
// MaxQueryLength runes.
func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return nil
	}
	if l.file == nil {
		return l.failLocked(ErrAuditClosed)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Question = util.TruncateRunes(util.OneLine(l.redactLocked(event.Question)), MaxQueryLength)
	event.Query = util.TruncateRunes(util.OneLine(l.redactLocked(event.Query)), MaxQueryLength)
	event.Detail = util.TruncateRunes(util.OneLine(l.redactLocked(event.Detail)), MaxQueryLength)

	if err := l.checkRotationLocked(); err != nil {
		return l.failLocked(err)
	}

	if _, err := l.file.WriteString(event.ToLogLine() + "\n"); err != nil {
		return l.failLocked(fmt.Errorf("failed to write audit log: %w", err))
	}
	l.failureCount = 0
	return nil
}

func (l *AuditLogger) failLocked(err error) error {
	l.failureCount++
	l.lastFailure = err
	if l.onFailure != nil {
		l.onFailure(err)
	}
	return err
}

// LogEvent writes a lifecycle event with metadata.
func (l *AuditLogger) LogEvent(requestID, eventType string, metadata map[string]string) error {
	return l.Log(AuditEvent{
		EventType: eventType,
		RequestID: requestID,
		Outcome:   "OK",
		Metadata:  metadata,
	})
}

// Redact applies all redactors to input.
func (l *AuditLogger) Redact(input string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

func (l *AuditLogger) redactLocked(input string) string {
	out := input
	for _, r := range l.redactors {
		out = r.Redact(out)
	}
	return out
}

// =============================================================================
// FILE ROTATION
// =============================================================================

func (l *AuditLogger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file
	return nil
}

func (l *AuditLogger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return nil
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetMaxSize sets the maximum file size before rotation. Zero disables
// rotation.
func (l *AuditLogger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// SetEnabled enables or disables writing.
func (l *AuditLogger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// SetOnFailure registers a callback for write failures.
func (l *AuditLogger) SetOnFailure(callback AuditFailureCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailure = callback
}

// FailureCount returns the number of consecutive failed writes.
func (l *AuditLogger) FailureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failureCount
}

// Path returns the log file path.
func (l *AuditLogger) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
