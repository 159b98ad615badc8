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

package local

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/services"
)

// Memory is an in-memory Identity implementation used in tests and in
// single-process deployments that do not need durability.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]services.User
	profiles   map[string]services.Profile
	accounts   map[string]services.Account
	filters    map[string]services.ProfileFilter
	apiKeys    map[string]services.APIKey
	rateLimits map[string]services.RateLimitState
}

// NewMemory returns an empty in-memory identity store.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]services.User),
		profiles:   make(map[string]services.Profile),
		accounts:   make(map[string]services.Account),
		filters:    make(map[string]services.ProfileFilter),
		apiKeys:    make(map[string]services.APIKey),
		rateLimits: make(map[string]services.RateLimitState),
	}
}

// UpsertUser creates or updates a user.
func (m *Memory) UpsertUser(ctx context.Context, user services.User) error {
	if user.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

// GetUser returns a user by id.
func (m *Memory) GetUser(ctx context.Context, id string) (*services.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, trace.NotFound("user %q is not found", id)
	}
	return &user, nil
}

// UpsertProfile creates or updates a profile.
func (m *Memory) UpsertProfile(ctx context.Context, profile services.Profile) (*services.Profile, error) {
	if err := profile.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.UserID == profile.UserID && existing.Slug == profile.Slug && existing.ID != profile.ID {
			return nil, trace.AlreadyExists("profile slug %q already exists for user %q", profile.Slug, profile.UserID)
		}
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	m.profiles[profile.ID] = profile
	return &profile, nil
}

// GetProfile returns a profile by id.
func (m *Memory) GetProfile(ctx context.Context, id string) (*services.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[id]
	if !ok {
		return nil, trace.NotFound("profile %q is not found", id)
	}
	return &profile, nil
}

// ListProfiles returns all profiles owned by a user.
func (m *Memory) ListProfiles(ctx context.Context, userID string) ([]services.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []services.Profile
	for _, profile := range m.profiles {
		if profile.UserID == userID {
			out = append(out, profile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// DeleteProfile removes a profile and its filters.
func (m *Memory) DeleteProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return trace.NotFound("profile %q is not found", id)
	}
	delete(m.profiles, id)
	for filterID, filter := range m.filters {
		if filter.ProfileID == id {
			delete(m.filters, filterID)
		}
	}
	return nil
}

// ListProfileFilters returns the filters bound to a profile.
func (m *Memory) ListProfileFilters(ctx context.Context, profileID string) ([]services.ProfileFilter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []services.ProfileFilter
	for _, filter := range m.filters {
		if filter.ProfileID == profileID {
			out = append(out, filter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertProfileFilter creates or updates a filter.
func (m *Memory) UpsertProfileFilter(ctx context.Context, filter services.ProfileFilter) (*services.ProfileFilter, error) {
	if filter.ProfileID == "" {
		return nil, trace.BadParameter("missing parameter ProfileID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter.ID == "" {
		filter.ID = uuid.NewString()
	}
	m.filters[filter.ID] = filter
	return &filter, nil
}

// UpsertAccount creates or updates an account keyed by
// (Platform, PlatformUserID) within the owning profile.
func (m *Memory) UpsertAccount(ctx context.Context, account services.Account) (*services.Account, error) {
	if err := account.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.accounts {
		if existing.ProfileID == account.ProfileID &&
			existing.Platform == account.Platform &&
			existing.PlatformUserID == account.PlatformUserID {
			account.ID = id
			m.accounts[id] = account
			return &account, nil
		}
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	m.accounts[account.ID] = account
	return &account, nil
}

// GetAccount returns an account by id.
func (m *Memory) GetAccount(ctx context.Context, id string) (*services.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, trace.NotFound("account %q is not found", id)
	}
	return &account, nil
}

// GetAccountByPlatformUser returns the account matching a platform-side
// identity.
func (m *Memory) GetAccountByPlatformUser(ctx context.Context, platform pulse.Platform, platformUserID string) (*services.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, account := range m.accounts {
		if account.Platform == platform && account.PlatformUserID == platformUserID {
			out := account
			return &out, nil
		}
	}
	return nil, trace.NotFound("no %v account for platform user %q", platform, platformUserID)
}

// ListActiveAccounts enumerates every active account joined with its
// owning user id.
func (m *Memory) ListActiveAccounts(ctx context.Context) ([]services.ActiveAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []services.ActiveAccount
	for _, account := range m.accounts {
		if !account.Active {
			continue
		}
		profile, ok := m.profiles[account.ProfileID]
		if !ok {
			continue
		}
		out = append(out, services.ActiveAccount{Account: account, UserID: profile.UserID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out, nil
}

// ListUserAccounts enumerates the accounts owned by one user,
// inactive ones included. Materialization keeps reading the last raw
// snapshots of deactivated accounts.
func (m *Memory) ListUserAccounts(ctx context.Context, userID string) ([]services.ActiveAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []services.ActiveAccount
	for _, account := range m.accounts {
		profile, ok := m.profiles[account.ProfileID]
		if !ok || profile.UserID != userID {
			continue
		}
		out = append(out, services.ActiveAccount{Account: account, UserID: profile.UserID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out, nil
}

// SetAccountActive flips the active flag.
func (m *Memory) SetAccountActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return trace.NotFound("account %q is not found", id)
	}
	account.Active = active
	m.accounts[id] = account
	return nil
}

// SetAccountFetched records a successful fetch time.
func (m *Memory) SetAccountFetched(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return trace.NotFound("account %q is not found", id)
	}
	account.LastFetchedAt = &at
	m.accounts[id] = account
	return nil
}

// UpsertAPIKey stores a key hash.
func (m *Memory) UpsertAPIKey(ctx context.Context, key services.APIKey) error {
	if key.KeyHash == "" {
		return trace.BadParameter("missing parameter KeyHash")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	m.apiKeys[key.ID] = key
	return nil
}

// GetAPIKeyByHash resolves a key hash to its record.
func (m *Memory) GetAPIKeyByHash(ctx context.Context, hash string) (*services.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range m.apiKeys {
		if key.KeyHash == hash {
			out := key
			return &out, nil
		}
	}
	return nil, trace.NotFound("api key is not found")
}

// TouchAPIKey records key usage.
func (m *Memory) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.apiKeys[id]
	if !ok {
		return trace.NotFound("api key %q is not found", id)
	}
	key.LastUsedAt = &at
	m.apiKeys[id] = key
	return nil
}

// GetRateLimit returns gate state for an account.
func (m *Memory) GetRateLimit(ctx context.Context, accountID string) (*services.RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.rateLimits[accountID]
	if !ok {
		return nil, trace.NotFound("no rate limit state for account %q", accountID)
	}
	return &state, nil
}

// UpsertRateLimit writes gate state for an account.
func (m *Memory) UpsertRateLimit(ctx context.Context, state services.RateLimitState) error {
	if state.AccountID == "" {
		return trace.BadParameter("missing parameter AccountID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimits[state.AccountID] = state
	return nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }
