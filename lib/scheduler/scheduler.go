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

// Package scheduler drives the ingestion loop: every tick it
// enumerates active accounts, fans fetches out to the platform
// adapters under a concurrency cap, persists raw snapshots and
// re-materializes the timelines of affected users.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/gate"
	"github.com/pulsehq/pulse/lib/providers"
	"github.com/pulsehq/pulse/lib/secret"
	"github.com/pulsehq/pulse/lib/services"
	"github.com/pulsehq/pulse/lib/snapshot"
	"github.com/pulsehq/pulse/lib/timeline"
)

// TokenRefresher renews an account's credentials ahead of a fetch
// when they are close to expiry.
type TokenRefresher interface {
	RefreshAccount(ctx context.Context, account services.Account) (*services.Account, error)
}

// Config holds scheduler dependencies.
type Config struct {
	// Identity is the relational store of users and accounts.
	Identity services.Identity
	// Snapshots is where raw payloads are persisted.
	Snapshots snapshot.Store
	// Providers maps each supported platform to its fetch adapter.
	Providers map[pulse.Platform]providers.Provider
	// Gate decides per-account whether a fetch may proceed.
	Gate *gate.Gate
	// Key opens sealed account tokens for the duration of a fetch.
	Key secret.Key
	// Materializer rebuilds user timelines after fetches land.
	Materializer *timeline.Materializer
	// Tokens refreshes expiring credentials before fetches, optional.
	Tokens TokenRefresher
	// Clock drives the tick loop, settable in tests.
	Clock clockwork.Clock
	// Log is the scheduler's logger.
	Log *slog.Logger
	// Interval is the period between ticks.
	Interval time.Duration
	// TickBudget bounds the wall-clock time of one tick.
	TickBudget time.Duration
	// Concurrency caps simultaneous provider fetches.
	Concurrency int
}

func (c *Config) checkAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Snapshots == nil {
		return trace.BadParameter("missing parameter Snapshots")
	}
	if c.Gate == nil {
		return trace.BadParameter("missing parameter Gate")
	}
	if len(c.Key) == 0 {
		return trace.BadParameter("missing parameter Key")
	}
	if c.Materializer == nil {
		return trace.BadParameter("missing parameter Materializer")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.With(pulse.ComponentKey, pulse.ComponentScheduler)
	}
	if c.Interval <= 0 {
		c.Interval = defaults.TickInterval
	}
	if c.TickBudget <= 0 {
		c.TickBudget = defaults.TickBudget
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.FetchConcurrency
	}
	return nil
}

// Scheduler runs the periodic fetch loop.
type Scheduler struct {
	cfg Config

	// accountLocks serializes work per account id so an on-demand
	// refresh never races a tick over the same account.
	accountLocks keyedMutex
	// userLocks serializes materialization per user id.
	userLocks keyedMutex

	// tickRunning guards against overlapping ticks.
	tickRunning sync.Mutex
}

// New returns a scheduler. Call Run to start the loop.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	registerMetrics()
	return &Scheduler{cfg: cfg}, nil
}

// Run ticks until the context is canceled. The first tick fires
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick fetches every active account once and re-materializes affected
// timelines. A tick that is still running when the next one fires
// makes the new one a no-op.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.tickRunning.TryLock() {
		s.cfg.Log.WarnContext(ctx, "Previous tick still running, skipping.")
		return
	}
	defer s.tickRunning.Unlock()
	tickCount.Inc()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickBudget)
	defer cancel()

	accounts, err := s.cfg.Identity.ListActiveAccounts(ctx)
	if err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to list active accounts.", "error", err)
		return
	}

	affected := s.fetchAll(ctx, accounts)
	for _, userID := range affected {
		s.materializeUser(ctx, userID)
	}
}

// RefreshUser fetches the user's active accounts immediately,
// bypassing the tick schedule but not the rate limit gate, then
// re-materializes the timeline.
func (s *Scheduler) RefreshUser(ctx context.Context, userID string) (*snapshot.Metadata, error) {
	accounts, err := s.cfg.Identity.ListUserAccounts(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var active []services.ActiveAccount
	for _, acct := range accounts {
		if acct.Account.Active {
			active = append(active, acct)
		}
	}
	s.fetchAll(ctx, active)
	meta, err := s.materializeUser(ctx, userID)
	return meta, trace.Wrap(err)
}

// fetchAll fans fetches out under the concurrency cap and returns the
// ids of users whose raw data changed, in first-seen order. Individual
// fetch failures are recorded in the gate, never propagated.
func (s *Scheduler) fetchAll(ctx context.Context, accounts []services.ActiveAccount) []string {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var affected []string

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for _, acct := range accounts {
		acct := acct
		group.Go(func() error {
			if s.fetchAccount(ctx, acct.Account) {
				mu.Lock()
				if !seen[acct.UserID] {
					seen[acct.UserID] = true
					affected = append(affected, acct.UserID)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	group.Wait()
	return affected
}

// fetchAccount runs one gated fetch and reports whether a new raw
// snapshot was written.
func (s *Scheduler) fetchAccount(ctx context.Context, account services.Account) bool {
	unlock := s.accountLocks.lock(account.ID)
	defer unlock()

	log := s.cfg.Log.With("account_id", account.ID, "platform", account.Platform)

	allowed, err := s.cfg.Gate.Allow(ctx, account.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read gate state.", "error", err)
		return false
	}
	if !allowed {
		fetchCount.WithLabelValues(string(account.Platform), outcomeSkipped).Inc()
		return false
	}
	provider, ok := s.cfg.Providers[account.Platform]
	if !ok {
		fetchCount.WithLabelValues(string(account.Platform), outcomeSkipped).Inc()
		return false
	}

	if s.cfg.Tokens != nil {
		refreshed, err := s.cfg.Tokens.RefreshAccount(ctx, account)
		if err != nil {
			// fall through with the stored token; an expired one fails
			// the fetch and takes the auth-revoked path
			log.WarnContext(ctx, "Failed to refresh access token.", "error", err)
		} else {
			account = *refreshed
		}
	}

	token, err := s.cfg.Key.Open(account.AccessToken)
	if err != nil {
		log.ErrorContext(ctx, "Failed to open sealed token.", "error", err)
		fetchCount.WithLabelValues(string(account.Platform), outcomeFailure).Inc()
		if err := s.cfg.Gate.RecordFailure(ctx, account.ID); err != nil {
			log.ErrorContext(ctx, "Failed to record fetch failure.", "error", err)
		}
		return false
	}

	start := s.cfg.Clock.Now()
	envelope, err := provider.Fetch(ctx, string(token))
	fetchSeconds.WithLabelValues(string(account.Platform)).Observe(s.cfg.Clock.Since(start).Seconds())
	if err != nil {
		s.recordFetchError(ctx, log, account, err)
		return false
	}

	payload, err := json.Marshal(envelope.Payload)
	if err != nil {
		log.ErrorContext(ctx, "Failed to encode raw payload.", "error", err)
		fetchCount.WithLabelValues(string(account.Platform), outcomeFailure).Inc()
		return false
	}
	storeID := snapshot.RawStoreID(account.Platform, account.ID)
	meta, err := s.cfg.Snapshots.Put(ctx, storeID, payload, snapshot.PutOptions{
		Tags: []string{
			"platform:" + string(account.Platform),
			"account:" + account.ID,
		},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to persist raw snapshot.", "error", err)
		fetchCount.WithLabelValues(string(account.Platform), outcomeFailure).Inc()
		return false
	}

	if err := s.cfg.Gate.RecordSuccess(ctx, account.ID, envelope.RateLimit); err != nil {
		log.ErrorContext(ctx, "Failed to record fetch success.", "error", err)
	}
	if err := s.cfg.Identity.SetAccountFetched(ctx, account.ID, s.cfg.Clock.Now().UTC()); err != nil {
		log.ErrorContext(ctx, "Failed to record fetch time.", "error", err)
	}
	fetchCount.WithLabelValues(string(account.Platform), outcomeSuccess).Inc()
	log.InfoContext(ctx, "Fetched account.", "version", meta.Version, "bytes", len(payload))
	return true
}

// recordFetchError maps a provider error onto the matching gate
// transition. Auth failures additionally deactivate the account so it
// stays out of future ticks until the user reconnects.
func (s *Scheduler) recordFetchError(ctx context.Context, log *slog.Logger, account services.Account, err error) {
	switch {
	case providers.IsRateLimited(err):
		fetchCount.WithLabelValues(string(account.Platform), outcomeRateLimited).Inc()
		retryAfter := providers.RetryAfter(err)
		if err := s.cfg.Gate.RecordRateLimited(ctx, account.ID, retryAfter); err != nil {
			log.ErrorContext(ctx, "Failed to record rate limit.", "error", err)
		}
	case providers.IsAuthExpired(err):
		fetchCount.WithLabelValues(string(account.Platform), outcomeAuthExpired).Inc()
		log.WarnContext(ctx, "Credentials revoked, deactivating account.", "error", err)
		if err := s.cfg.Gate.RecordAuthRevoked(ctx, account.ID); err != nil {
			log.ErrorContext(ctx, "Failed to record auth revocation.", "error", err)
		}
		if err := s.cfg.Identity.SetAccountActive(ctx, account.ID, false); err != nil {
			log.ErrorContext(ctx, "Failed to deactivate account.", "error", err)
		}
	default:
		fetchCount.WithLabelValues(string(account.Platform), outcomeFailure).Inc()
		log.WarnContext(ctx, "Fetch failed.", "error", err)
		if err := s.cfg.Gate.RecordFailure(ctx, account.ID); err != nil {
			log.ErrorContext(ctx, "Failed to record fetch failure.", "error", err)
		}
	}
}

// materializeUser rebuilds one user's timeline from the latest raw
// snapshots of all their accounts, including inactive ones whose old
// data still belongs on the timeline.
func (s *Scheduler) materializeUser(ctx context.Context, userID string) (*snapshot.Metadata, error) {
	unlock := s.userLocks.lock(userID)
	defer unlock()

	accounts, err := s.cfg.Identity.ListUserAccounts(ctx, userID)
	if err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to list user accounts.", "user_id", userID, "error", err)
		return nil, trace.Wrap(err)
	}
	sources := make([]timeline.Source, 0, len(accounts))
	for _, acct := range accounts {
		sources = append(sources, timeline.Source{
			AccountID: acct.Account.ID,
			Platform:  acct.Account.Platform,
		})
	}
	meta, err := s.cfg.Materializer.Materialize(ctx, userID, sources)
	if err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to materialize timeline.", "user_id", userID, "error", err)
		return nil, trace.Wrap(err)
	}
	materializeCount.Inc()
	return meta, nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
