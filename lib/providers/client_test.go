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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestOutcomeMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited with retry-after",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "120")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsRateLimited(err))
				require.Equal(t, 120*time.Second, RetryAfter(err))
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad credentials", http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsAuthExpired(err))
			},
		},
		{
			name: "forbidden quota exhausted is rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsRateLimited(err))
			},
		},
		{
			name: "plain forbidden is auth failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsAuthExpired(err))
			},
		},
		{
			name: "server error is a connection problem",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				require.True(t, trace.IsConnectionProblem(err))
			},
		},
		{
			name: "client error is an api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no such resource", http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsAPIError(err))
			},
		},
		{
			name: "malformed body is a parse error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
			check: func(t *testing.T, err error) {
				require.True(t, IsParseError(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			var out map[string]any
			_, err := getJSON(context.Background(), srv.Client(), srv.URL, "tok", nil, &out)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestBearerHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var out map[string]any
	_, err := getJSON(context.Background(), srv.Client(), srv.URL, "tok-123", nil, &out)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-123", got)
}

func TestRateLimitFromHeaders(t *testing.T) {
	h := http.Header{}
	require.Nil(t, rateLimitFromHeaders(h))

	h.Set("X-RateLimit-Remaining", "4999")
	h.Set("X-RateLimit-Limit", "5000")
	h.Set("X-RateLimit-Reset", "1705312800")
	info := rateLimitFromHeaders(h)
	require.NotNil(t, info)
	require.Equal(t, 4999, info.Remaining)
	require.Equal(t, 5000, info.Limit)
	require.Equal(t, time.Unix(1705312800, 0).UTC(), info.ResetAt)
}
