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

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newGitHubServer serves a minimal slice of the code host API: one
// user with push activity on alice/x and a merged pull request.
func newGitHubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("X-RateLimit-Remaining", "4990")
		w.Header().Set("X-RateLimit-Limit", "5000")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"login": "alice"})
	})
	mux.HandleFunc("/users/alice/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			reply(w, []any{})
			return
		}
		reply(w, []map[string]any{
			{
				"type": "PushEvent",
				"repo": map[string]any{"name": "alice/x"},
				"payload": map[string]any{
					"ref": "refs/heads/main",
					"commits": []map[string]any{
						{"sha": "aaaaaaa000", "message": "add parser"},
					},
				},
				"created_at": "2024-01-15T10:00:00Z",
			},
			{
				"type":       "WatchEvent",
				"repo":       map[string]any{"name": "alice/ignored"},
				"created_at": "2024-01-15T11:00:00Z",
			},
		})
	})
	mux.HandleFunc("/repos/alice/x/commits", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []map[string]any{
			{
				"sha":      "aaaaaaa000",
				"html_url": "https://example.com/alice/x/commit/aaaaaaa000",
				"commit": map[string]any{
					"message": "add parser\n\nlong body",
					"author":  map[string]any{"date": "2024-01-15T10:00:00Z"},
				},
			},
		})
	})
	mux.HandleFunc("/repos/alice/x/commits/aaaaaaa000", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{
			"sha": "aaaaaaa000",
			"commit": map[string]any{
				"message": "add parser\n\nlong body",
				"author":  map[string]any{"date": "2024-01-15T10:00:00Z"},
			},
			"stats": map[string]any{"additions": 10, "deletions": 2},
			"files": []map[string]any{{"filename": "parser.go"}},
		})
	})
	mux.HandleFunc("/repos/alice/x/pulls", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []map[string]any{
			{
				"number":     42,
				"title":      "Add parser",
				"state":      "closed",
				"user":       map[string]any{"login": "alice"},
				"created_at": "2024-01-14T09:00:00Z",
				"merged_at":  "2024-01-15T09:00:00Z",
				"html_url":   "https://example.com/alice/x/pull/42",
			},
			{
				"number": 43,
				"title":  "Not ours",
				"state":  "open",
				"user":   map[string]any{"login": "bob"},
			},
		})
	})
	mux.HandleFunc("/repos/alice/x/pulls/42/commits", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []map[string]any{{"sha": "cccccc1000"}, {"sha": "cccccc2000"}})
	})
	return httptest.NewServer(mux)
}

func TestGitHubFetch(t *testing.T) {
	srv := newGitHubServer(t)
	defer srv.Close()

	gh := NewGitHub(GitHubConfig{Client: srv.Client(), BaseURL: srv.URL})
	env, err := gh.Fetch(context.Background(), "tok")
	require.NoError(t, err)

	raw, ok := env.Payload.(*GitHubRaw)
	require.True(t, ok)
	require.Equal(t, "alice", raw.Meta.Username)
	require.Equal(t, []string{"alice/x"}, raw.Meta.Repositories)

	data, ok := raw.Repos["alice/x"]
	require.True(t, ok)
	require.Len(t, data.Commits, 1)
	require.Equal(t, "aaaaaaa000", data.Commits[0].SHA)
	require.Equal(t, "main", data.Commits[0].Branch)
	require.Equal(t, 10, data.Commits[0].Additions)
	require.Equal(t, 1, data.Commits[0].FilesChanged)

	// only the account owner's pull requests are kept, and a merged_at
	// timestamp flips the state to merged
	require.Len(t, data.PullRequests, 1)
	pr := data.PullRequests[0]
	require.Equal(t, 42, pr.Number)
	require.True(t, pr.Merged)
	require.Equal(t, "merged", pr.State)
	require.Equal(t, []string{"cccccc1000", "cccccc2000"}, pr.CommitSHAs)

	// rate limit headers propagate through the envelope
	require.NotNil(t, env.RateLimit)
	require.Equal(t, 4990, env.RateLimit.Remaining)
	require.Equal(t, 5000, env.RateLimit.Limit)
}

func TestGitHubAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	gh := NewGitHub(GitHubConfig{Client: srv.Client(), BaseURL: srv.URL})
	_, err := gh.Fetch(context.Background(), "expired")
	require.True(t, IsAuthExpired(err))
}

func TestFakeProvider(t *testing.T) {
	fake := NewFake("github")
	fake.SetPayload(&GitHubRaw{Meta: GitHubMeta{Username: "alice"}})

	env, err := fake.Fetch(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "alice", env.Payload.(*GitHubRaw).Meta.Username)
	require.Equal(t, 1, fake.Calls())

	fake.SimulateAuthFailure()
	_, err = fake.Fetch(context.Background(), "tok")
	require.True(t, IsAuthExpired(err))
	require.Equal(t, 2, fake.Calls())
}
