// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/fedquery/internal/util"
)

// maxSlowQueries is how many of the slowest answers a tracker keeps.
const maxSlowQueries = 5

// UsageTracker keeps in-process counters for the current run: answers per
// role and outcome, and the slowest questions. It backs the stats views of
// the chat session and the HTTP API.
type UsageTracker struct {
	mu        sync.RWMutex
	started   time.Time
	total     int
	byRole    map[string]int
	byOutcome map[string]int
	totalTime time.Duration
	slowest   []QueryUsage
	auditFail int
}

// QueryUsage records one answer in the slow-query list.
type QueryUsage struct {
	Timestamp time.Time     `json:"timestamp"`
	Role      string        `json:"role"`
	Question  string        `json:"question"` // first 100 runes
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
}

// UsageSummary is a point-in-time copy of a tracker.
type UsageSummary struct {
	Since       time.Time      `json:"since"`
	Total       int            `json:"total"`
	ByRole      map[string]int `json:"by_role"`
	ByOutcome   map[string]int `json:"by_outcome"`
	AvgDuration time.Duration  `json:"avg_duration"`
	Slowest     []QueryUsage   `json:"slowest"`
	// AuditFailures counts audit writes that failed during the run.
	AuditFailures int `json:"audit_failures"`
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		started:   time.Now(),
		byRole:    make(map[string]int),
		byOutcome: make(map[string]int),
	}
}

// Record adds one answer.
func (u *UsageTracker) Record(role, question, outcome string, d time.Duration) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	u.total++
	u.byRole[role]++
	u.byOutcome[outcome]++
	u.totalTime += d

	u.slowest = append(u.slowest, QueryUsage{
		Timestamp: time.Now(),
		Role:      role,
		Question:  util.TruncateRunes(question, 100),
		Outcome:   outcome,
		Duration:  d,
	})
	sort.SliceStable(u.slowest, func(i, j int) bool {
		return u.slowest[i].Duration > u.slowest[j].Duration
	})
	if len(u.slowest) > maxSlowQueries {
		u.slowest = u.slowest[:maxSlowQueries]
	}
}

// RecordAuditFailure counts one failed audit write.
func (u *UsageTracker) RecordAuditFailure() {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.auditFail++
	u.mu.Unlock()
}

// Summary returns a copy of the current counters.
func (u *UsageTracker) Summary() UsageSummary {
	u.mu.RLock()
	defer u.mu.RUnlock()

	s := UsageSummary{
		Since:     u.started,
		Total:     u.total,
		ByRole:    make(map[string]int, len(u.byRole)),
		ByOutcome: make(map[string]int, len(u.byOutcome)),
		Slowest:   append([]QueryUsage(nil), u.slowest...),

		AuditFailures: u.auditFail,
	}
	for k, v := range u.byRole {
		s.ByRole[k] = v
	}
	for k, v := range u.byOutcome {
		s.ByOutcome[k] = v
	}
	if u.total > 0 {
		s.AvgDuration = u.totalTime / time.Duration(u.total)
	}
	return s
}
