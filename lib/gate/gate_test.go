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

package gate

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/lib/services"
	"github.com/pulsehq/pulse/lib/services/local"
)

func newTestGate(t *testing.T) (*Gate, *local.Memory, *clockwork.FakeClock) {
	t.Helper()
	identity := local.NewMemory()
	clock := clockwork.NewFakeClock()
	g, err := New(Config{States: identity, Clock: clock})
	require.NoError(t, err)
	return g, identity, clock
}

func TestAllowWithoutState(t *testing.T) {
	g, _, _ := newTestGate(t)
	allowed, err := g.Allow(context.Background(), "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestBackoffDoubles(t *testing.T) {
	require.Equal(t, time.Minute, Backoff(1))
	require.Equal(t, 2*time.Minute, Backoff(2))
	require.Equal(t, 4*time.Minute, Backoff(3))
	require.Equal(t, 16*time.Minute, Backoff(5))
	// cap at 30 minutes
	require.Equal(t, 30*time.Minute, Backoff(6))
	require.Equal(t, 30*time.Minute, Backoff(20))
	require.Equal(t, 30*time.Minute, Backoff(100))
}

func TestFailureOpensBreaker(t *testing.T) {
	g, identity, clock := newTestGate(t)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, g.RecordFailure(ctx, "acct-1"))
	state, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, services.GateFailing, state.Status)
	require.Equal(t, 1, state.ConsecutiveFailures)
	require.False(t, state.CircuitOpenUntil.Before(start.Add(time.Minute)))

	allowed, err := g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, allowed)

	// second failure doubles the window
	require.NoError(t, g.RecordFailure(ctx, "acct-1"))
	state, err = identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 2, state.ConsecutiveFailures)
	require.Equal(t, start.Add(2*time.Minute), state.CircuitOpenUntil)

	// once the window elapses the gate opens again
	clock.Advance(2*time.Minute + time.Second)
	allowed, err = g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestSuccessResetsStreakNotBreaker(t *testing.T) {
	g, identity, clock := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "acct-1"))
	require.NoError(t, g.RecordFailure(ctx, "acct-1"))
	before, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)

	// a success (e.g. a manually triggered fetch) resets the streak but
	// does not retroactively shorten the open window
	require.NoError(t, g.RecordSuccess(ctx, "acct-1", nil))
	after, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 0, after.ConsecutiveFailures)
	require.Equal(t, services.GateClosed, after.Status)
	require.Equal(t, before.CircuitOpenUntil, after.CircuitOpenUntil)

	allowed, err := g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, allowed)

	clock.Advance(30 * time.Minute)
	allowed, err = g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimited(t *testing.T) {
	g, identity, clock := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.RecordRateLimited(ctx, "acct-1", 120*time.Second))
	state, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, services.GateThrottled, state.Status)
	require.Equal(t, clock.Now().Add(120*time.Second), state.CircuitOpenUntil)

	allowed, err := g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, allowed)

	// a shorter retry-after must not shrink the open window
	require.NoError(t, g.RecordRateLimited(ctx, "acct-1", 10*time.Second))
	state, err = identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(120*time.Second), state.CircuitOpenUntil)

	clock.Advance(121 * time.Second)
	allowed, err = g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestExhaustedWindowDenies(t *testing.T) {
	g, identity, clock := newTestGate(t)
	ctx := context.Background()

	reset := clock.Now().Add(time.Hour)
	require.NoError(t, g.RecordSuccess(ctx, "acct-1", &RateLimitInfo{
		Remaining: 0,
		Limit:     5000,
		ResetAt:   reset,
	}))

	allowed, err := g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, allowed)

	clock.Advance(time.Hour + time.Minute)
	allowed, err = g.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)

	state, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 5000, state.LimitTotal)
}

func TestAuthRevoked(t *testing.T) {
	g, identity, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.RecordAuthRevoked(ctx, "acct-1"))
	state, err := identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, services.GateAuthRevoked, state.Status)

	require.NoError(t, g.Reset(ctx, "acct-1"))
	state, err = identity.GetRateLimit(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, services.GateClosed, state.Status)
	require.Equal(t, 0, state.ConsecutiveFailures)
}
