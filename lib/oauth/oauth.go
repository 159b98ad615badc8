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

// Package oauth implements the authorization code flow for connecting
// platform accounts: building authorize URLs, exchanging callback
// codes for tokens, resolving the platform-side identity and storing
// the account with sealed credentials.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/gate"
	"github.com/pulsehq/pulse/lib/secret"
	"github.com/pulsehq/pulse/lib/services"
)

// Connector holds one platform's OAuth application settings. Endpoint
// URLs default to the platform's public endpoints and are overridden
// in tests.
type Connector struct {
	Platform     pulse.Platform
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// UserInfoURL is where the platform-side identity is fetched from
	// after a successful exchange.
	UserInfoURL string
	Scopes      []string
}

// CheckAndSetDefaults validates the connector and fills in the
// platform's public endpoints.
func (c *Connector) CheckAndSetDefaults() error {
	if !c.Platform.IsValid() {
		return trace.BadParameter("unsupported platform %q", c.Platform)
	}
	if c.ClientID == "" {
		return trace.BadParameter("missing parameter ClientID")
	}
	if c.ClientSecret == "" {
		return trace.BadParameter("missing parameter ClientSecret")
	}
	endpoints, ok := platformEndpoints[c.Platform]
	if !ok {
		return trace.BadParameter("no known endpoints for platform %q", c.Platform)
	}
	if c.AuthURL == "" {
		c.AuthURL = endpoints.auth
	}
	if c.TokenURL == "" {
		c.TokenURL = endpoints.token
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = endpoints.userInfo
	}
	if len(c.Scopes) == 0 {
		c.Scopes = endpoints.scopes
	}
	return nil
}

type endpoints struct {
	auth     string
	token    string
	userInfo string
	scopes   []string
}

var platformEndpoints = map[pulse.Platform]endpoints{
	pulse.PlatformGitHub: {
		auth:     "https://github.com/login/oauth/authorize",
		token:    "https://github.com/login/oauth/access_token",
		userInfo: "https://api.github.com/user",
		scopes:   []string{"read:user", "repo"},
	},
	pulse.PlatformBluesky: {
		auth:     "https://bsky.social/oauth/authorize",
		token:    "https://bsky.social/oauth/token",
		userInfo: "https://bsky.social/xrpc/com.atproto.server.getSession",
		scopes:   []string{"atproto"},
	},
	pulse.PlatformYouTube: {
		auth:     "https://accounts.google.com/o/oauth2/v2/auth",
		token:    "https://oauth2.googleapis.com/token",
		userInfo: "https://www.googleapis.com/youtube/v3/channels?part=snippet&mine=true",
		scopes:   []string{"https://www.googleapis.com/auth/youtube.readonly"},
	},
	pulse.PlatformReddit: {
		auth:     "https://www.reddit.com/api/v1/authorize",
		token:    "https://www.reddit.com/api/v1/access_token",
		userInfo: "https://oauth.reddit.com/api/v1/me",
		scopes:   []string{"identity", "history", "read"},
	},
	pulse.PlatformTwitter: {
		auth:     "https://twitter.com/i/oauth2/authorize",
		token:    "https://api.twitter.com/2/oauth2/token",
		userInfo: "https://api.twitter.com/2/users/me",
		scopes:   []string{"tweet.read", "users.read", "offline.access"},
	},
	pulse.PlatformTodoist: {
		auth:     "https://todoist.com/oauth/authorize",
		token:    "https://todoist.com/oauth/access_token",
		userInfo: "https://api.todoist.com/sync/v9/user",
		scopes:   []string{"data:read"},
	},
}

// Config holds OAuth service dependencies.
type Config struct {
	// Identity is the relational store accounts are saved to.
	Identity services.Identity
	// Gate is reset after a successful re-auth.
	Gate *gate.Gate
	// Key seals tokens before they reach the store.
	Key secret.Key
	// Connectors maps each configured platform to its application
	// settings.
	Connectors map[pulse.Platform]Connector
	// Client is the outbound HTTP client.
	Client *http.Client
	// Clock computes token expiry.
	Clock clockwork.Clock
	// AppURL is the public base URL callbacks are registered under.
	AppURL string
	// FrontendURL is where callback handling redirects to.
	FrontendURL string
	// Log is the service logger.
	Log *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Gate == nil {
		return trace.BadParameter("missing parameter Gate")
	}
	if len(c.Key) == 0 {
		return trace.BadParameter("missing parameter Key")
	}
	for platform, connector := range c.Connectors {
		if err := connector.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err, "connector %q", platform)
		}
		c.Connectors[platform] = connector
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaults.ProviderTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.AppURL == "" {
		c.AppURL = defaults.AppURL
	}
	if c.FrontendURL == "" {
		c.FrontendURL = defaults.FrontendURL
	}
	if c.Log == nil {
		c.Log = slog.With(pulse.ComponentKey, pulse.ComponentOAuth)
	}
	return nil
}

// Service runs the OAuth connect flow.
type Service struct {
	cfg Config
}

// NewService returns an OAuth service for the configured connectors.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// redirectURI returns the callback this service registers with
// providers for a platform.
func (s *Service) redirectURI(platform pulse.Platform) string {
	return fmt.Sprintf("%v/v1/oauth/%v/callback", strings.TrimRight(s.cfg.AppURL, "/"), platform)
}

// AuthorizeURL builds the provider authorization URL that starts a
// connect flow for the given user and profile.
func (s *Service) AuthorizeURL(platform pulse.Platform, userID, profileID string) (string, error) {
	connector, ok := s.cfg.Connectors[platform]
	if !ok {
		return "", trace.NotFound("platform %q is not configured", platform)
	}
	state := NewState(userID)
	state.Extras = map[string]string{"profile_id": profileID}
	encoded, err := state.Encode()
	if err != nil {
		return "", trace.Wrap(err)
	}
	query := url.Values{
		"client_id":     {connector.ClientID},
		"redirect_uri":  {s.redirectURI(platform)},
		"response_type": {"code"},
		"scope":         {strings.Join(connector.Scopes, " ")},
		"state":         {encoded},
	}
	return connector.AuthURL + "?" + query.Encode(), nil
}

// Token is a validated token exchange result.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// Expiry is nil when the provider did not report a lifetime.
	Expiry *time.Time
}

// allowed token_type values, per RFC 6749 registrations actually seen
// in the wild
var validTokenTypes = map[string]bool{
	"Bearer": true,
	"bearer": true,
	"MAC":    true,
}

// Exchange swaps an authorization code for a validated token.
func (s *Service) Exchange(ctx context.Context, connector Connector, code string) (*Token, error) {
	return s.tokenRequest(ctx, connector, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {s.redirectURI(connector.Platform)},
		"client_id":     {connector.ClientID},
		"client_secret": {connector.ClientSecret},
	})
}

// refreshExchange swaps a refresh token for a fresh access token.
func (s *Service) refreshExchange(ctx context.Context, connector Connector, refreshToken string) (*Token, error) {
	return s.tokenRequest(ctx, connector, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {connector.ClientID},
		"client_secret": {connector.ClientSecret},
	})
}

// tokenRequest posts a form to the token endpoint and validates the
// response.
func (s *Service) tokenRequest(ctx context.Context, connector Connector, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, connector.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, trace.AccessDenied("token endpoint returned status %v", resp.StatusCode)
	}

	var raw struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken json.RawMessage `json:"refresh_token"`
		TokenType    string          `json:"token_type"`
		ExpiresIn    json.RawMessage `json:"expires_in"`
		Error        string          `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, trace.BadParameter("token endpoint returned malformed JSON")
	}
	if raw.Error != "" {
		return nil, trace.AccessDenied("token endpoint returned error %q", raw.Error)
	}
	if raw.AccessToken == "" {
		return nil, trace.BadParameter("token response is missing access_token")
	}
	tokenType := raw.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	if !validTokenTypes[tokenType] {
		return nil, trace.BadParameter("unsupported token_type %q", raw.TokenType)
	}
	token := &Token{
		AccessToken: raw.AccessToken,
		TokenType:   tokenType,
	}
	// refresh_token and expires_in are optional and some providers send
	// them with the wrong type; a mistyped value is dropped, not fatal
	var refreshToken string
	if json.Unmarshal(raw.RefreshToken, &refreshToken) == nil {
		token.RefreshToken = refreshToken
	}
	var expiresIn int64
	if json.Unmarshal(raw.ExpiresIn, &expiresIn) == nil && expiresIn > 0 {
		expiry := s.cfg.Clock.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
		token.Expiry = &expiry
	}
	return token, nil
}

// refreshWindow is how close to expiry a token gets refreshed ahead of
// a fetch.
const refreshWindow = 5 * time.Minute

// RefreshAccount swaps the account's refresh token for a new access
// token when the stored one is expired or about to expire. Accounts
// without an expiry, without a refresh token or on an unconfigured
// platform come back unchanged.
func (s *Service) RefreshAccount(ctx context.Context, account services.Account) (*services.Account, error) {
	if account.TokenExpiry == nil || account.RefreshToken == "" {
		return &account, nil
	}
	if s.cfg.Clock.Now().Add(refreshWindow).Before(*account.TokenExpiry) {
		return &account, nil
	}
	connector, ok := s.cfg.Connectors[account.Platform]
	if !ok {
		return &account, nil
	}
	refreshToken, err := s.cfg.Key.Open(account.RefreshToken)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	token, err := s.refreshExchange(ctx, connector, string(refreshToken))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	account.AccessToken, err = s.cfg.Key.Seal([]byte(token.AccessToken))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// providers that rotate refresh tokens send a new one back
	if token.RefreshToken != "" {
		account.RefreshToken, err = s.cfg.Key.Seal([]byte(token.RefreshToken))
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	account.TokenExpiry = token.Expiry
	saved, err := s.cfg.Identity.UpsertAccount(ctx, account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.cfg.Log.InfoContext(ctx, "Refreshed access token.",
		"platform", account.Platform, "account_id", saved.ID)
	return saved, nil
}

// PlatformIdentity is the provider-side identity of a freshly
// connected account.
type PlatformIdentity struct {
	PlatformUserID string
	Handle         string
}

// fetchIdentity resolves who the token belongs to on the platform.
func (s *Service) fetchIdentity(ctx context.Context, connector Connector, accessToken string) (*PlatformIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connector.UserInfoURL, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, trace.AccessDenied("user info endpoint returned status %v", resp.StatusCode)
	}
	identity, err := parseIdentity(connector.Platform, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return identity, nil
}

func parseIdentity(platform pulse.Platform, body []byte) (*PlatformIdentity, error) {
	switch platform {
	case pulse.PlatformGitHub:
		var v struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
		}
		if err := json.Unmarshal(body, &v); err != nil || v.Login == "" {
			return nil, trace.BadParameter("malformed user info response")
		}
		return &PlatformIdentity{PlatformUserID: fmt.Sprintf("%d", v.ID), Handle: v.Login}, nil
	case pulse.PlatformBluesky:
		var v struct {
			DID    string `json:"did"`
			Handle string `json:"handle"`
		}
		if err := json.Unmarshal(body, &v); err != nil || v.DID == "" {
			return nil, trace.BadParameter("malformed user info response")
		}
		return &PlatformIdentity{PlatformUserID: v.DID, Handle: v.Handle}, nil
	case pulse.PlatformYouTube:
		var v struct {
			Items []struct {
				ID      string `json:"id"`
				Snippet struct {
					Title string `json:"title"`
				} `json:"snippet"`
			} `json:"items"`
		}
		if err := json.Unmarshal(body, &v); err != nil || len(v.Items) == 0 {
			return nil, trace.BadParameter("malformed user info response")
		}
		return &PlatformIdentity{PlatformUserID: v.Items[0].ID, Handle: v.Items[0].Snippet.Title}, nil
	case pulse.PlatformReddit:
		var v struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &v); err != nil || v.ID == "" {
			return nil, trace.BadParameter("malformed user info response")
		}
		return &PlatformIdentity{PlatformUserID: v.ID, Handle: v.Name}, nil
	case pulse.PlatformTwitter:
		var v struct {
			Data struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &v); err != nil || v.Data.ID == "" {
			return nil, trace.BadParameter("malformed user info response")
		}
		return &PlatformIdentity{PlatformUserID: v.Data.ID, Handle: v.Data.Username}, nil
	case pulse.PlatformTodoist:
		var v struct {
			ID       json.Number `json:"id"`
			FullName string      `json:"full_name"`
			Email    string      `json:"email"`
		}
		if err := json.Unmarshal(body, &v); err != nil || v.ID.String() == "" {
			return nil, trace.BadParameter("malformed user info response")
		}
		handle := v.FullName
		if handle == "" {
			handle = v.Email
		}
		return &PlatformIdentity{PlatformUserID: v.ID.String(), Handle: handle}, nil
	}
	return nil, trace.BadParameter("unsupported platform %q", platform)
}

// Callback is the outcome of handling a provider redirect. RedirectURL
// always points at the frontend, carrying either the connected
// platform or a stable error code.
type Callback struct {
	RedirectURL string
	// Account is set on success.
	Account *services.Account
}

func (s *Service) failure(platform pulse.Platform, code string) *Callback {
	return &Callback{
		RedirectURL: fmt.Sprintf("%v?error=%v_%v", s.cfg.FrontendURL, platform, code),
	}
}

// HandleCallback processes the query string of a provider redirect. It
// never returns an error to the end of the flow; every failure maps to
// a frontend redirect with a stable error code.
func (s *Service) HandleCallback(ctx context.Context, platform pulse.Platform, query url.Values) *Callback {
	connector, ok := s.cfg.Connectors[platform]
	if !ok {
		return s.failure(platform, "not_configured")
	}
	if query.Get("error") != "" {
		return s.failure(platform, "auth_denied")
	}
	code := query.Get("code")
	if code == "" {
		return s.failure(platform, "no_code")
	}
	rawState := query.Get("state")
	if rawState == "" {
		return s.failure(platform, "no_state")
	}
	state, err := DecodeState(rawState)
	if err != nil {
		s.cfg.Log.WarnContext(ctx, "Rejected OAuth callback state.", "platform", platform, "error", err)
		return s.failure(platform, "invalid_state")
	}

	token, err := s.Exchange(ctx, connector, code)
	if err != nil {
		s.cfg.Log.WarnContext(ctx, "Token exchange failed.", "platform", platform, "error", err)
		return s.failure(platform, "token_failed")
	}
	identity, err := s.fetchIdentity(ctx, connector, token.AccessToken)
	if err != nil {
		s.cfg.Log.WarnContext(ctx, "User info fetch failed.", "platform", platform, "error", err)
		return s.failure(platform, "user_failed")
	}

	account, err := s.saveAccount(ctx, platform, state, token, identity)
	if err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to save connected account.", "platform", platform, "error", err)
		return s.failure(platform, "save_failed")
	}
	s.cfg.Log.InfoContext(ctx, "Connected account.",
		"platform", platform, "user_id", state.UserID, "handle", identity.Handle)
	return &Callback{
		RedirectURL: fmt.Sprintf("%v?connected=%v", s.cfg.FrontendURL, platform),
		Account:     account,
	}
}

// saveAccount seals the tokens, upserts the account under the profile
// named in the state and resets the account's gate so fetching resumes
// immediately.
func (s *Service) saveAccount(ctx context.Context, platform pulse.Platform, state *State, token *Token, identity *PlatformIdentity) (*services.Account, error) {
	profileID, err := state.Extra("profile_id")
	if err != nil {
		profileID, err = s.defaultProfile(ctx, state.UserID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	sealedAccess, err := s.cfg.Key.Seal([]byte(token.AccessToken))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	account := services.Account{
		ProfileID:      profileID,
		Platform:       platform,
		PlatformUserID: identity.PlatformUserID,
		Handle:         identity.Handle,
		AccessToken:    sealedAccess,
		TokenExpiry:    token.Expiry,
		Active:         true,
	}
	if token.RefreshToken != "" {
		sealedRefresh, err := s.cfg.Key.Seal([]byte(token.RefreshToken))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		account.RefreshToken = sealedRefresh
	}
	saved, err := s.cfg.Identity.UpsertAccount(ctx, account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Gate.Reset(ctx, saved.ID); err != nil {
		return nil, trace.Wrap(err)
	}
	return saved, nil
}

// defaultProfile returns the user's first profile, creating one when
// the user has none yet.
func (s *Service) defaultProfile(ctx context.Context, userID string) (string, error) {
	profiles, err := s.cfg.Identity.ListProfiles(ctx, userID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(profiles) > 0 {
		return profiles[0].ID, nil
	}
	profile, err := s.cfg.Identity.UpsertProfile(ctx, services.Profile{
		UserID: userID,
		Slug:   "default",
		Name:   "Default",
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	return profile.ID, nil
}
