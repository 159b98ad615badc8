/*
Copyright 2025 Pulse Technologies, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gate implements the per-account rate limit gate: counters,
// failure streaks and a circuit breaker with exponential backoff that
// decide whether a fetch may proceed.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/services"
)

// Config holds gate dependencies.
type Config struct {
	// States is the persistent rate limit state store.
	States services.RateLimits
	// Clock is used to evaluate breaker windows, settable in tests.
	Clock clockwork.Clock
	// Log is the gate's logger.
	Log *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.States == nil {
		return trace.BadParameter("missing parameter States")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// Gate decides whether per-account fetches may proceed and records
// fetch outcomes.
type Gate struct {
	cfg Config
}

// New returns a gate backed by the given state store.
func New(cfg Config) (*Gate, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Gate{cfg: cfg}, nil
}

// ShouldFetch reports whether a fetch may proceed for the given state.
// Absence of state allows the fetch.
func ShouldFetch(state *services.RateLimitState, now time.Time) bool {
	if state == nil {
		return true
	}
	if state.CircuitOpenUntil.After(now) {
		return false
	}
	if state.Remaining == 0 && state.ResetAt.After(now) {
		return false
	}
	return true
}

// Allow reads the account's gate state and reports whether a fetch may
// proceed right now.
func (g *Gate) Allow(ctx context.Context, accountID string) (bool, error) {
	state, err := g.cfg.States.GetRateLimit(ctx, accountID)
	if err != nil {
		if trace.IsNotFound(err) {
			return true, nil
		}
		return false, trace.Wrap(err)
	}
	return ShouldFetch(state, g.cfg.Clock.Now()), nil
}

// RateLimitInfo carries provider-reported rate limit headers.
type RateLimitInfo struct {
	// Remaining is the number of requests left in the window, below
	// zero when the provider did not report it.
	Remaining int
	// Limit is the window total, below zero when not reported.
	Limit int
	// ResetAt is when the window resets, zero when not reported.
	ResetAt time.Time
}

// RecordSuccess resets the failure streak and records provider-reported
// limits if any. An outstanding breaker window is left in place.
func (g *Gate) RecordSuccess(ctx context.Context, accountID string, info *RateLimitInfo) error {
	state := g.load(ctx, accountID)
	state.Status = services.GateClosed
	state.ConsecutiveFailures = 0
	if info != nil {
		state.Remaining = info.Remaining
		state.LimitTotal = info.Limit
		state.ResetAt = info.ResetAt
	}
	return trace.Wrap(g.cfg.States.UpsertRateLimit(ctx, *state))
}

// RecordRateLimited opens the breaker until the provider-supplied
// retry-after elapses, never shortening an already open window.
func (g *Gate) RecordRateLimited(ctx context.Context, accountID string, retryAfter time.Duration) error {
	now := g.cfg.Clock.Now()
	state := g.load(ctx, accountID)
	state.Status = services.GateThrottled
	state.LastFailureAt = now
	until := now.Add(retryAfter)
	if until.After(state.CircuitOpenUntil) {
		state.CircuitOpenUntil = until
	}
	g.cfg.Log.InfoContext(ctx, "Provider rate limited account.",
		"account_id", accountID,
		"retry_after", retryAfter,
	)
	return trace.Wrap(g.cfg.States.UpsertRateLimit(ctx, *state))
}

// RecordFailure increments the failure streak and opens the breaker for
// min(base * 2^(n-1), max) where n is the new streak length.
func (g *Gate) RecordFailure(ctx context.Context, accountID string) error {
	now := g.cfg.Clock.Now()
	state := g.load(ctx, accountID)
	state.Status = services.GateFailing
	state.ConsecutiveFailures++
	state.LastFailureAt = now
	state.CircuitOpenUntil = now.Add(Backoff(state.ConsecutiveFailures))
	return trace.Wrap(g.cfg.States.UpsertRateLimit(ctx, *state))
}

// RecordAuthRevoked marks the account's gate state as revoked. The
// caller is expected to deactivate the account; the gate keeps denying
// until a new OAuth flow resets it.
func (g *Gate) RecordAuthRevoked(ctx context.Context, accountID string) error {
	state := g.load(ctx, accountID)
	state.Status = services.GateAuthRevoked
	state.LastFailureAt = g.cfg.Clock.Now()
	return trace.Wrap(g.cfg.States.UpsertRateLimit(ctx, *state))
}

// Reset clears gate state after a successful re-auth.
func (g *Gate) Reset(ctx context.Context, accountID string) error {
	return trace.Wrap(g.cfg.States.UpsertRateLimit(ctx, services.RateLimitState{
		AccountID: accountID,
		Status:    services.GateClosed,
		Remaining: -1,
		LimitTotal: -1,
	}))
}

// Backoff returns the breaker window after the n-th consecutive
// failure: one minute doubling per failure, capped at thirty minutes.
func Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	shift := failures - 1
	// 1m << 11 already exceeds the 30m cap, avoid overflow past that.
	if shift > 11 {
		return defaults.BackoffMax
	}
	backoff := defaults.BackoffBase << uint(shift)
	if backoff > defaults.BackoffMax {
		return defaults.BackoffMax
	}
	return backoff
}

// load returns existing state or a zero state for the account. Store
// read failures degrade to a zero state so an outcome is still
// recorded.
func (g *Gate) load(ctx context.Context, accountID string) *services.RateLimitState {
	state, err := g.cfg.States.GetRateLimit(ctx, accountID)
	if err != nil {
		if !trace.IsNotFound(err) {
			g.cfg.Log.WarnContext(ctx, "Failed to read gate state, starting fresh.",
				"account_id", accountID,
				"error", err,
			)
		}
		return &services.RateLimitState{
			AccountID:  accountID,
			Status:     services.GateClosed,
			Remaining:  -1,
			LimitTotal: -1,
		}
	}
	return state
}
