// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled limits how often the wrapped generator is called. Callers wait
// for a token; a canceled context aborts the wait.
type Throttled struct {
	next    Generator
	limiter *rate.Limiter
}

// NewThrottled wraps next with a limiter of rps requests per second and the
// given burst. A non-positive rps disables throttling and returns next.
func NewThrottled(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate waits for the limiter, then delegates.
func (t *Throttled) Generate(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generator throttled: %w", err)
	}
	return t.next.Generate(ctx, req)
}

// Name identifies the wrapped backend.
func (t *Throttled) Name() string { return t.next.Name() }
