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

// Package web implements the inbound HTTP API: authenticated timeline
// and raw snapshot reads, on-demand refresh and the OAuth callback.
package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/httplib"
	"github.com/pulsehq/pulse/lib/oauth"
	"github.com/pulsehq/pulse/lib/services"
	"github.com/pulsehq/pulse/lib/snapshot"
	"github.com/pulsehq/pulse/lib/timeline"
)

// Refresher triggers an immediate fetch and materialization cycle for
// one user.
type Refresher interface {
	RefreshUser(ctx context.Context, userID string) (*snapshot.Metadata, error)
}

// Config holds API server dependencies.
type Config struct {
	// Identity is the relational store backing auth and filters.
	Identity services.Identity
	// Snapshots serves timeline and raw reads.
	Snapshots snapshot.Store
	// Scheduler handles on-demand refreshes.
	Scheduler Refresher
	// OAuth handles provider callbacks, optional when no connectors
	// are configured.
	OAuth *oauth.Service
	// Clock stamps API key usage.
	Clock clockwork.Clock
	// Log is the server's logger.
	Log *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Snapshots == nil {
		return trace.BadParameter("missing parameter Snapshots")
	}
	if c.Scheduler == nil {
		return trace.BadParameter("missing parameter Scheduler")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.With(pulse.ComponentKey, pulse.ComponentWeb)
	}
	return nil
}

// APIServer routes the versioned HTTP API.
type APIServer struct {
	httprouter.Router
	cfg Config
}

// NewAPIServer returns the wired API server.
func NewAPIServer(cfg Config) (*APIServer, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &APIServer{cfg: cfg}

	s.GET("/v1/timeline/:user_id", httplib.MakeHandler(s.getTimeline))
	s.GET("/v1/timeline/:user_id/raw/:platform", httplib.MakeHandler(s.getRawSnapshot))
	s.POST("/v1/refresh/:user_id", httplib.MakeHandler(s.refresh))
	s.GET("/v1/oauth/:platform/callback", s.oauthCallback)
	s.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	s.GET("/healthz", httplib.MakeHandler(s.health))
	return s, nil
}

// HashAPIKey returns the hex sha256 digest under which an API key is
// stored. Plaintext keys never persist.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// authorize resolves the bearer token to an API key record and checks
// it owns the requested user. Failures are uniformly AccessDenied.
func (s *APIServer) authorize(r *http.Request, userID string) (*services.APIKey, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, trace.AccessDenied("missing bearer token")
	}
	key, err := s.cfg.Identity.GetAPIKeyByHash(r.Context(), HashAPIKey(token))
	if err != nil {
		// hide whether the key exists
		return nil, trace.AccessDenied("invalid API key")
	}
	if key.UserID != userID {
		return nil, trace.AccessDenied("API key does not grant access to this user")
	}
	if err := s.cfg.Identity.TouchAPIKey(r.Context(), key.ID, s.cfg.Clock.Now().UTC()); err != nil {
		s.cfg.Log.WarnContext(r.Context(), "Failed to record API key usage.", "error", err)
	}
	return key, nil
}

// TimelineResponse is the body of a timeline read.
type TimelineResponse struct {
	UserID    string               `json:"user_id"`
	Version   int64                `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Groups    []timeline.DateGroup `json:"groups"`
}

// getTimeline serves the latest materialized timeline, windowed and
// filtered at read time.
func (s *APIServer) getTimeline(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	userID := p.ByName("user_id")
	if _, err := s.authorize(r, userID); err != nil {
		return nil, trace.Wrap(err)
	}

	meta, data, err := s.cfg.Snapshots.GetLatest(r.Context(), snapshot.TimelineStoreID(userID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no timeline for user %q yet", userID)
		}
		return nil, trace.Wrap(err)
	}
	var snap timeline.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, trace.Wrap(err)
	}

	query, err := parseQuery(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	groups := snap.Groups
	if slug := r.URL.Query().Get("profile"); slug != "" {
		filters, err := s.profileFilters(r.Context(), userID, slug)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		groups = timeline.ApplyProfileFilters(groups, filters)
	}
	groups = timeline.FilterGroups(groups, query)

	return &TimelineResponse{
		UserID:    userID,
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		Groups:    groups,
	}, nil
}

// profileFilters resolves a profile slug to its filter set.
func (s *APIServer) profileFilters(ctx context.Context, userID, slug string) ([]services.ProfileFilter, error) {
	profiles, err := s.cfg.Identity.ListProfiles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, profile := range profiles {
		if profile.Slug == slug {
			filters, err := s.cfg.Identity.ListProfileFilters(ctx, profile.ID)
			return filters, trace.Wrap(err)
		}
	}
	return nil, trace.NotFound("profile %q is not found", slug)
}

func parseQuery(r *http.Request) (timeline.Query, error) {
	values := r.URL.Query()
	query := timeline.Query{
		From:   values.Get("from"),
		To:     values.Get("to"),
		Before: values.Get("before"),
	}
	for _, date := range []string{query.From, query.To, query.Before} {
		if date == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return timeline.Query{}, trace.BadParameter("dates must look like 2006-01-02, got %q", date)
		}
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return timeline.Query{}, trace.BadParameter("limit must be a non-negative integer, got %q", raw)
		}
		query.Limit = limit
	}
	return query, nil
}

// RawResponse is the body of a raw snapshot read.
type RawResponse struct {
	StoreID   string          `json:"store_id"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Hash      string          `json:"hash"`
	Tags      []string        `json:"tags,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// getRawSnapshot serves the latest raw payload of one of the user's
// accounts, exactly as fetched.
func (s *APIServer) getRawSnapshot(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	userID := p.ByName("user_id")
	if _, err := s.authorize(r, userID); err != nil {
		return nil, trace.Wrap(err)
	}
	platform := pulse.Platform(p.ByName("platform"))
	if !platform.IsValid() {
		return nil, trace.BadParameter("unsupported platform %q", platform)
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		return nil, trace.BadParameter("missing query parameter account_id")
	}

	// the account must belong to the requested user
	accounts, err := s.cfg.Identity.ListUserAccounts(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	owned := false
	for _, acct := range accounts {
		if acct.Account.ID == accountID && acct.Account.Platform == platform {
			owned = true
			break
		}
	}
	if !owned {
		return nil, trace.NotFound("account %q is not found", accountID)
	}

	meta, data, err := s.cfg.Snapshots.GetLatest(r.Context(), snapshot.RawStoreID(platform, accountID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &RawResponse{
		StoreID:   meta.StoreID,
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		Hash:      meta.Hash,
		Tags:      meta.Tags,
		Payload:   json.RawMessage(data),
	}, nil
}

// RefreshResponse is the body of an on-demand refresh.
type RefreshResponse struct {
	UserID  string `json:"user_id"`
	Version int64  `json:"version"`
}

// refresh fetches the user's accounts now and returns the resulting
// timeline version.
func (s *APIServer) refresh(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	userID := p.ByName("user_id")
	if _, err := s.authorize(r, userID); err != nil {
		return nil, trace.Wrap(err)
	}
	meta, err := s.cfg.Scheduler.RefreshUser(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &RefreshResponse{UserID: userID, Version: meta.Version}, nil
}

// oauthCallback terminates the provider authorization redirect. The
// response is always a redirect to the frontend; errors ride in its
// query string.
func (s *APIServer) oauthCallback(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	platform := pulse.Platform(p.ByName("platform"))
	if s.cfg.OAuth == nil {
		httplib.ReplyError(w, trace.NotFound("OAuth is not configured"))
		return
	}
	result := s.cfg.OAuth.HandleCallback(r.Context(), platform, r.URL.Query())
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (s *APIServer) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return map[string]string{"status": "ok"}, nil
}
