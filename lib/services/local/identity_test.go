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
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/services"
)

// newStores returns each Identity implementation under test.
func newStores(t *testing.T) map[string]services.Identity {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]services.Identity{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

// seedUser creates a user with one profile and returns the profile.
func seedUser(t *testing.T, identity services.Identity, userID string) *services.Profile {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, identity.UpsertUser(ctx, services.User{
		ID:    userID,
		Email: userID + "@example.com",
	}))
	profile, err := identity.UpsertProfile(ctx, services.Profile{UserID: userID, Slug: "main"})
	require.NoError(t, err)
	return profile
}

func TestUsers(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, identity.UpsertUser(ctx, services.User{ID: "u1", Email: "a@example.com"}))

			user, err := identity.GetUser(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "a@example.com", user.Email)

			// upsert replaces
			require.NoError(t, identity.UpsertUser(ctx, services.User{ID: "u1", Email: "b@example.com"}))
			user, err = identity.GetUser(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "b@example.com", user.Email)

			_, err = identity.GetUser(ctx, "nope")
			require.True(t, trace.IsNotFound(err))
		})
	}
}

func TestProfileSlugUniqueness(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			profile := seedUser(t, identity, "u1")

			// same slug for the same user is rejected
			_, err := identity.UpsertProfile(ctx, services.Profile{UserID: "u1", Slug: "main"})
			require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

			// but fine for another user
			require.NoError(t, identity.UpsertUser(ctx, services.User{ID: "u2", Email: "u2@example.com"}))
			_, err = identity.UpsertProfile(ctx, services.Profile{UserID: "u2", Slug: "main"})
			require.NoError(t, err)

			// updating the existing profile by id keeps its slug
			profile.Name = "renamed"
			updated, err := identity.UpsertProfile(ctx, *profile)
			require.NoError(t, err)
			require.Equal(t, profile.ID, updated.ID)
			require.Equal(t, "renamed", updated.Name)
		})
	}
}

func TestDeleteProfileRemovesFilters(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			profile := seedUser(t, identity, "u1")
			_, err := identity.UpsertProfileFilter(ctx, services.ProfileFilter{
				ProfileID: profile.ID,
				Type:      services.FilterExclude,
				Key:       services.FilterKeyRepo,
				Value:     "noisy/repo",
			})
			require.NoError(t, err)

			require.NoError(t, identity.DeleteProfile(ctx, profile.ID))
			filters, err := identity.ListProfileFilters(ctx, profile.ID)
			require.NoError(t, err)
			require.Empty(t, filters)
		})
	}
}

func TestAccountUpsertIsIdempotent(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			profile := seedUser(t, identity, "u1")

			first, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      profile.ID,
				Platform:       pulse.PlatformGitHub,
				PlatformUserID: "12345",
				Handle:         "alice",
				AccessToken:    "sealed-1",
				Active:         true,
			})
			require.NoError(t, err)

			// reconnecting the same platform identity updates in place
			second, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      profile.ID,
				Platform:       pulse.PlatformGitHub,
				PlatformUserID: "12345",
				Handle:         "alice",
				AccessToken:    "sealed-2",
				Active:         true,
			})
			require.NoError(t, err)
			require.Equal(t, first.ID, second.ID)

			got, err := identity.GetAccount(ctx, first.ID)
			require.NoError(t, err)
			require.Equal(t, "sealed-2", got.AccessToken)

			byPlatform, err := identity.GetAccountByPlatformUser(ctx, pulse.PlatformGitHub, "12345")
			require.NoError(t, err)
			require.Equal(t, first.ID, byPlatform.ID)
		})
	}
}

// Two profiles may hold the same platform identity; each upsert must
// come back with its own profile's row, not the other profile's tokens.
func TestAccountUpsertScopedToProfile(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p1 := seedUser(t, identity, "u1")
			p2 := seedUser(t, identity, "u2")

			first, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      p1.ID,
				Platform:       pulse.PlatformGitHub,
				PlatformUserID: "12345",
				Handle:         "alice",
				AccessToken:    "sealed-p1",
				Active:         true,
			})
			require.NoError(t, err)

			second, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      p2.ID,
				Platform:       pulse.PlatformGitHub,
				PlatformUserID: "12345",
				Handle:         "alice",
				AccessToken:    "sealed-p2",
				Active:         true,
			})
			require.NoError(t, err)

			require.NotEqual(t, first.ID, second.ID)
			require.Equal(t, p2.ID, second.ProfileID)
			require.Equal(t, "sealed-p2", second.AccessToken)

			// the first profile's row is untouched
			got, err := identity.GetAccount(ctx, first.ID)
			require.NoError(t, err)
			require.Equal(t, p1.ID, got.ProfileID)
			require.Equal(t, "sealed-p1", got.AccessToken)
		})
	}
}

func TestAccountActivation(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			profile := seedUser(t, identity, "u1")
			account, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      profile.ID,
				Platform:       pulse.PlatformReddit,
				PlatformUserID: "rd-1",
				AccessToken:    "sealed",
				Active:         true,
			})
			require.NoError(t, err)

			active, err := identity.ListActiveAccounts(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			require.Equal(t, "u1", active[0].UserID)

			require.NoError(t, identity.SetAccountActive(ctx, account.ID, false))

			// deactivated accounts leave the tick set but stay visible
			// per user for materialization
			active, err = identity.ListActiveAccounts(ctx)
			require.NoError(t, err)
			require.Empty(t, active)
			all, err := identity.ListUserAccounts(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.False(t, all[0].Account.Active)
		})
	}
}

func TestSetAccountFetched(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			profile := seedUser(t, identity, "u1")
			account, err := identity.UpsertAccount(ctx, services.Account{
				ProfileID:      profile.ID,
				Platform:       pulse.PlatformTodoist,
				PlatformUserID: "td-1",
				AccessToken:    "sealed",
				Active:         true,
			})
			require.NoError(t, err)

			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, identity.SetAccountFetched(ctx, account.ID, at))

			got, err := identity.GetAccount(ctx, account.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastFetchedAt)
			require.Equal(t, at, got.LastFetchedAt.UTC())

			require.True(t, trace.IsNotFound(identity.SetAccountFetched(ctx, "nope", at)))
		})
	}
}

func TestAPIKeys(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedUser(t, identity, "u1")
			require.NoError(t, identity.UpsertAPIKey(ctx, services.APIKey{
				ID:      "key-1",
				UserID:  "u1",
				KeyHash: "deadbeef",
				Name:    "ci",
			}))

			key, err := identity.GetAPIKeyByHash(ctx, "deadbeef")
			require.NoError(t, err)
			require.Equal(t, "u1", key.UserID)

			at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
			require.NoError(t, identity.TouchAPIKey(ctx, key.ID, at))
			key, err = identity.GetAPIKeyByHash(ctx, "deadbeef")
			require.NoError(t, err)
			require.NotNil(t, key.LastUsedAt)

			_, err = identity.GetAPIKeyByHash(ctx, "unknown")
			require.True(t, trace.IsNotFound(err))
		})
	}
}

func TestRateLimits(t *testing.T) {
	for name, identity := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := identity.GetRateLimit(ctx, "acct-1")
			require.True(t, trace.IsNotFound(err))

			state := services.RateLimitState{
				AccountID:           "acct-1",
				Status:              services.GateFailing,
				Remaining:           -1,
				LimitTotal:          -1,
				ConsecutiveFailures: 3,
				CircuitOpenUntil:    time.Date(2024, 3, 1, 12, 4, 0, 0, time.UTC),
			}
			require.NoError(t, identity.UpsertRateLimit(ctx, state))

			got, err := identity.GetRateLimit(ctx, "acct-1")
			require.NoError(t, err)
			require.Equal(t, services.GateFailing, got.Status)
			require.Equal(t, 3, got.ConsecutiveFailures)
			require.Equal(t, state.CircuitOpenUntil, got.CircuitOpenUntil.UTC())
		})
	}
}
