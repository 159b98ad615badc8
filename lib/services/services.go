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

// Package services defines the relational data model consumed by the
// ingestion pipeline and the interfaces over its persistent storage.
package services

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
)

// User is an identity owning profiles, accounts and API keys. Users are
// created on first sign-in and never destroyed by the pipeline.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is a user-curated sub-view. Accounts are owned by profiles.
type Profile struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CheckAndSetDefaults validates the profile.
func (p *Profile) CheckAndSetDefaults() error {
	if p.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if p.Slug == "" {
		return trace.BadParameter("missing parameter Slug")
	}
	return nil
}

// Account is a connected external identity on one platform.
// (ProfileID, Platform, PlatformUserID) is unique. Tokens are stored
// sealed; plaintext only exists inside a fetch attempt.
type Account struct {
	ID             string         `json:"id"`
	ProfileID      string         `json:"profile_id"`
	Platform       pulse.Platform `json:"platform"`
	PlatformUserID string         `json:"platform_user_id"`
	Handle         string         `json:"handle"`
	// AccessToken is the sealed access token.
	AccessToken string `json:"access_token"`
	// RefreshToken is the sealed refresh token, optional.
	RefreshToken  string     `json:"refresh_token,omitempty"`
	TokenExpiry   *time.Time `json:"token_expiry,omitempty"`
	Active        bool       `json:"active"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// CheckAndSetDefaults validates the account.
func (a *Account) CheckAndSetDefaults() error {
	if a.ProfileID == "" {
		return trace.BadParameter("missing parameter ProfileID")
	}
	if !a.Platform.IsValid() {
		return trace.BadParameter("unsupported platform %q", a.Platform)
	}
	if a.PlatformUserID == "" {
		return trace.BadParameter("missing parameter PlatformUserID")
	}
	return nil
}

// FilterType selects whether a filter admits or rejects matches.
type FilterType string

const (
	// FilterInclude admits only matching items.
	FilterInclude FilterType = "include"
	// FilterExclude rejects matching items.
	FilterExclude FilterType = "exclude"
)

// FilterKey names the item attribute a filter matches on.
type FilterKey string

const (
	// FilterKeyRepo matches a repository full name.
	FilterKeyRepo FilterKey = "repo"
	// FilterKeySubreddit matches a subreddit name.
	FilterKeySubreddit FilterKey = "subreddit"
	// FilterKeyKeyword matches a substring of the item title.
	FilterKeyKeyword FilterKey = "keyword"
	// FilterKeyHandle matches the account handle an item came from.
	FilterKeyHandle FilterKey = "account-handle"
)

// ProfileFilter is an include/exclude predicate bound to a profile and
// an account, applied at timeline read time.
type ProfileFilter struct {
	ID        string     `json:"id"`
	ProfileID string     `json:"profile_id"`
	AccountID string     `json:"account_id"`
	Type      FilterType `json:"type"`
	Key       FilterKey  `json:"key"`
	Value     string     `json:"value"`
}

// APIKey is a hashed bearer token for inbound requests. The plaintext
// never persists.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyHash    string     `json:"key_hash"`
	Name       string     `json:"name"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// GateStatus is the rate limit gate's view of an account.
type GateStatus string

const (
	// GateClosed means fetches may proceed.
	GateClosed GateStatus = "closed"
	// GateThrottled means the provider asked to slow down.
	GateThrottled GateStatus = "throttled"
	// GateFailing means the account is in exponential backoff.
	GateFailing GateStatus = "failing"
	// GateAuthRevoked means the token was rejected and the account
	// needs a new OAuth flow.
	GateAuthRevoked GateStatus = "auth_revoked"
)

// RateLimitState holds per-account rate limit counters and circuit
// breaker state. Remaining below zero means the provider did not
// expose a remaining-requests counter.
type RateLimitState struct {
	AccountID           string     `json:"account_id"`
	Status              GateStatus `json:"status"`
	Remaining           int        `json:"remaining"`
	LimitTotal          int        `json:"limit_total"`
	ResetAt             time.Time  `json:"reset_at"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       time.Time  `json:"last_failure_at"`
	CircuitOpenUntil    time.Time  `json:"circuit_open_until"`
}

// ActiveAccount joins an active account with the id of the user that
// owns it, as enumerated by the scheduler each tick.
type ActiveAccount struct {
	Account Account `json:"account"`
	UserID  string  `json:"user_id"`
}

// Users manages user records.
type Users interface {
	// UpsertUser creates or updates a user.
	UpsertUser(ctx context.Context, user User) error
	// GetUser returns a user by id.
	GetUser(ctx context.Context, id string) (*User, error)
}

// Profiles manages profile records.
type Profiles interface {
	// UpsertProfile creates or updates a profile. (UserID, Slug) is
	// unique; creating a duplicate slug returns AlreadyExists.
	UpsertProfile(ctx context.Context, profile Profile) (*Profile, error)
	// GetProfile returns a profile by id.
	GetProfile(ctx context.Context, id string) (*Profile, error)
	// ListProfiles returns all profiles owned by a user.
	ListProfiles(ctx context.Context, userID string) ([]Profile, error)
	// DeleteProfile removes a profile and its filters.
	DeleteProfile(ctx context.Context, id string) error
	// ListProfileFilters returns the filters bound to a profile.
	ListProfileFilters(ctx context.Context, profileID string) ([]ProfileFilter, error)
	// UpsertProfileFilter creates or updates a filter.
	UpsertProfileFilter(ctx context.Context, filter ProfileFilter) (*ProfileFilter, error)
}

// Accounts manages connected platform accounts.
type Accounts interface {
	// UpsertAccount creates or updates an account keyed by
	// (Platform, PlatformUserID) within the owning profile.
	UpsertAccount(ctx context.Context, account Account) (*Account, error)
	// GetAccount returns an account by id.
	GetAccount(ctx context.Context, id string) (*Account, error)
	// GetAccountByPlatformUser returns the account matching a
	// platform-side identity, regardless of profile.
	GetAccountByPlatformUser(ctx context.Context, platform pulse.Platform, platformUserID string) (*Account, error)
	// ListActiveAccounts enumerates every active account joined with
	// its owning user id.
	ListActiveAccounts(ctx context.Context) ([]ActiveAccount, error)
	// ListUserAccounts enumerates the accounts owned by one user.
	ListUserAccounts(ctx context.Context, userID string) ([]ActiveAccount, error)
	// SetAccountActive flips the active flag.
	SetAccountActive(ctx context.Context, id string, active bool) error
	// SetAccountFetched records a successful fetch time.
	SetAccountFetched(ctx context.Context, id string, at time.Time) error
}

// APIKeys manages hashed bearer tokens.
type APIKeys interface {
	// UpsertAPIKey stores a key hash.
	UpsertAPIKey(ctx context.Context, key APIKey) error
	// GetAPIKeyByHash resolves a key hash to its record.
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	// TouchAPIKey records key usage.
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// RateLimits manages per-account gate state.
type RateLimits interface {
	// GetRateLimit returns gate state for an account, or NotFound if
	// the account has never been fetched.
	GetRateLimit(ctx context.Context, accountID string) (*RateLimitState, error)
	// UpsertRateLimit writes gate state for an account.
	UpsertRateLimit(ctx context.Context, state RateLimitState) error
}

// Identity is the aggregate interface over the relational store.
type Identity interface {
	Users
	Profiles
	Accounts
	APIKeys
	RateLimits

	// Close releases the underlying store.
	Close() error
}
