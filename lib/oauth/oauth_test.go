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

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/gate"
	"github.com/pulsehq/pulse/lib/secret"
	"github.com/pulsehq/pulse/lib/services"
	"github.com/pulsehq/pulse/lib/services/local"
)

func TestStateRoundTrip(t *testing.T) {
	state := NewState("user-1")
	state.Extras = map[string]string{"profile_id": "prof-1"}

	encoded, err := state.Encode()
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	require.Equal(t, "user-1", decoded.UserID)
	require.Equal(t, state.Nonce, decoded.Nonce)

	profileID, err := decoded.Extra("profile_id")
	require.NoError(t, err)
	require.Equal(t, "prof-1", profileID)

	_, err = decoded.Extra("missing")
	require.ErrorContains(t, err, "missing_missing")
}

func TestDecodeStateRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "garbage base64", raw: "!!!not-base64!!!", code: "invalid_base64"},
		{name: "not json", raw: "bm90IGpzb24", code: "invalid_json"},
		{name: "no user id", raw: "eyJub25jZSI6Im4ifQ", code: "missing_user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeState(tt.raw)
			require.ErrorContains(t, err, tt.code)
		})
	}
}

type fixture struct {
	service  *Service
	identity services.Identity
	clock    *clockwork.FakeClock
}

// newFixture wires a service against an httptest provider. The handler
// serves both the token and the user info endpoints.
func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	identity := local.NewMemory()
	gt, err := gate.New(gate.Config{States: identity})
	require.NoError(t, err)
	key, err := secret.NewKey()
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()

	service, err := NewService(Config{
		Identity: identity,
		Gate:     gt,
		Key:      key,
		Clock:    clock,
		Connectors: map[pulse.Platform]Connector{
			pulse.PlatformGitHub: {
				Platform:     pulse.PlatformGitHub,
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				AuthURL:      srv.URL + "/authorize",
				TokenURL:     srv.URL + "/token",
				UserInfoURL:  srv.URL + "/user",
			},
		},
	})
	require.NoError(t, err)
	return &fixture{service: service, identity: identity, clock: clock}
}

func githubProvider(t *testing.T, tokenResponse map[string]any) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 12345, "login": "alice"})
	})
	return mux
}

func callbackQuery(t *testing.T, userID string) url.Values {
	t.Helper()
	state := NewState(userID)
	encoded, err := state.Encode()
	require.NoError(t, err)
	return url.Values{"code": {"auth-code"}, "state": {encoded}}
}

func TestHandleCallback(t *testing.T) {
	f := newFixture(t, githubProvider(t, map[string]any{
		"access_token": "gho_abc",
		"token_type":   "bearer",
		"expires_in":   3600,
	}))
	ctx := context.Background()

	result := f.service.HandleCallback(ctx, pulse.PlatformGitHub, callbackQuery(t, "user-1"))
	require.NotNil(t, result.Account)
	require.Contains(t, result.RedirectURL, "connected=github")

	account, err := f.identity.GetAccountByPlatformUser(ctx, pulse.PlatformGitHub, "12345")
	require.NoError(t, err)
	require.Equal(t, "alice", account.Handle)
	require.True(t, account.Active)
	// token is sealed at rest
	require.NotEqual(t, "gho_abc", account.AccessToken)
	require.NotNil(t, account.TokenExpiry)
	require.Equal(t, f.clock.Now().UTC().Add(time.Hour), *account.TokenExpiry)

	// a fresh connect resets the gate
	state, err := f.identity.GetRateLimit(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, services.GateClosed, state.Status)
}

// Reconnecting after revocation reuses the (platform, platform user)
// identity rather than growing a second account.
func TestHandleCallbackReconnect(t *testing.T) {
	f := newFixture(t, githubProvider(t, map[string]any{
		"access_token": "gho_abc",
		"token_type":   "Bearer",
	}))
	ctx := context.Background()

	first := f.service.HandleCallback(ctx, pulse.PlatformGitHub, callbackQuery(t, "user-1"))
	require.NotNil(t, first.Account)
	require.NoError(t, f.identity.SetAccountActive(ctx, first.Account.ID, false))

	second := f.service.HandleCallback(ctx, pulse.PlatformGitHub, callbackQuery(t, "user-1"))
	require.NotNil(t, second.Account)
	require.Equal(t, first.Account.ID, second.Account.ID)
	require.True(t, second.Account.Active)
}

func TestHandleCallbackErrors(t *testing.T) {
	f := newFixture(t, githubProvider(t, map[string]any{
		"access_token": "gho_abc",
	}))
	ctx := context.Background()

	tests := []struct {
		name  string
		query url.Values
		code  string
	}{
		{name: "provider denied", query: url.Values{"error": {"access_denied"}}, code: "github_auth_denied"},
		{name: "no code", query: url.Values{"state": {"x"}}, code: "github_no_code"},
		{name: "no state", query: url.Values{"code": {"auth-code"}}, code: "github_no_state"},
		{name: "bad state", query: url.Values{"code": {"auth-code"}, "state": {"%%%"}}, code: "github_invalid_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.service.HandleCallback(ctx, pulse.PlatformGitHub, tt.query)
			require.Nil(t, result.Account)
			require.Contains(t, result.RedirectURL, "error="+tt.code)
		})
	}

	t.Run("unconfigured platform", func(t *testing.T) {
		result := f.service.HandleCallback(ctx, pulse.PlatformReddit, callbackQuery(t, "user-1"))
		require.Contains(t, result.RedirectURL, "error=reddit_not_configured")
	})
}

func TestExchangeValidation(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		wantErr  string
	}{
		{
			name:     "missing access token",
			response: map[string]any{"token_type": "Bearer"},
			wantErr:  "missing access_token",
		},
		{
			name:     "unsupported token type",
			response: map[string]any{"access_token": "x", "token_type": "Basic"},
			wantErr:  "unsupported token_type",
		},
		{
			name:     "provider error body",
			response: map[string]any{"error": "bad_verification_code"},
			wantErr:  "bad_verification_code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, githubProvider(t, tt.response))
			connector := f.service.cfg.Connectors[pulse.PlatformGitHub]
			_, err := f.service.Exchange(context.Background(), connector, "auth-code")
			require.ErrorContains(t, err, tt.wantErr)

			result := f.service.HandleCallback(context.Background(), pulse.PlatformGitHub, callbackQuery(t, "user-1"))
			require.Contains(t, result.RedirectURL, "error=github_token_failed")
		})
	}
}

// A missing token_type defaults to Bearer instead of failing.
func TestExchangeDefaultsTokenType(t *testing.T) {
	f := newFixture(t, githubProvider(t, map[string]any{"access_token": "gho_abc"}))
	result := f.service.HandleCallback(context.Background(), pulse.PlatformGitHub, callbackQuery(t, "user-1"))
	require.NotNil(t, result.Account)
	// no expires_in means no stored expiry
	require.Nil(t, result.Account.TokenExpiry)
}

// Some providers send expires_in as a string or refresh_token as a
// non-string; the mistyped optional fields are dropped while the
// exchange still succeeds.
func TestExchangeDropsMistypedOptionalFields(t *testing.T) {
	f := newFixture(t, githubProvider(t, map[string]any{
		"access_token":  "gho_abc",
		"expires_in":    "3600",
		"refresh_token": 42,
	}))
	connector := f.service.cfg.Connectors[pulse.PlatformGitHub]
	token, err := f.service.Exchange(context.Background(), connector, "auth-code")
	require.NoError(t, err)
	require.Equal(t, "gho_abc", token.AccessToken)
	require.Nil(t, token.Expiry)
	require.Empty(t, token.RefreshToken)

	result := f.service.HandleCallback(context.Background(), pulse.PlatformGitHub, callbackQuery(t, "user-1"))
	require.NotNil(t, result.Account)
	require.Nil(t, result.Account.TokenExpiry)
}

func TestAuthorizeURL(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler())
	raw, err := f.service.AuthorizeURL(pulse.PlatformGitHub, "user-1", "prof-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	query := u.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "code", query.Get("response_type"))

	state, err := DecodeState(query.Get("state"))
	require.NoError(t, err)
	require.Equal(t, "user-1", state.UserID)

	_, err = f.service.AuthorizeURL(pulse.PlatformTwitter, "user-1", "prof-1")
	require.Error(t, err)
}
