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
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/gate"
)

// maxErrorBody caps how much of an error response body is kept for the
// error message.
const maxErrorBody = 512

// defaultRetryAfter is assumed when a provider rate limits without a
// Retry-After header.
const defaultRetryAfter = time.Minute

// NewHTTPClient returns the http client adapters use by default.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: defaults.ProviderTimeout}
}

// getJSON issues an authenticated GET, maps the outcome onto the
// provider error taxonomy and decodes a 2xx body into out. The
// returned header is from the response and may carry rate limit
// information; it is non-nil whenever the request reached the server.
func getJSON(ctx context.Context, clt *http.Client, url, token string, extra map[string]string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := clt.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "request to %v failed", url)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.Header, &RateLimitedError{RetryAfter: retryAfterHeader(resp.Header)}
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.Header, &AuthExpiredError{Msg: trimBody(body)}
	case resp.StatusCode == http.StatusForbidden:
		// some providers answer 403 when the quota is exhausted and
		// mark it with rate limit headers
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return resp.Header, &RateLimitedError{RetryAfter: retryAfterHeader(resp.Header)}
		}
		return resp.Header, &AuthExpiredError{Msg: trimBody(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if resp.StatusCode >= 500 {
			return resp.Header, trace.ConnectionProblem(nil, "request to %v failed with status %v", url, resp.StatusCode)
		}
		return resp.Header, &APIError{Status: resp.StatusCode, Msg: trimBody(body)}
	}
	if readErr != nil {
		return resp.Header, trace.ConnectionProblem(readErr, "failed to read response from %v", url)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.Header, &ParseError{Msg: err.Error()}
		}
	}
	return resp.Header, nil
}

// trimBody keeps a short prefix of an error body for diagnostics.
func trimBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

// retryAfterHeader parses Retry-After seconds, falling back to the
// X-RateLimit-Reset epoch and finally to a one minute default.
func retryAfterHeader(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if until := time.Until(time.Unix(epoch, 0)); until > 0 {
				return until
			}
		}
	}
	return defaultRetryAfter
}

// rateLimitFromHeaders extracts X-RateLimit-* information, nil when the
// provider exposes none.
func rateLimitFromHeaders(h http.Header) *gate.RateLimitInfo {
	if h == nil {
		return nil
	}
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}
	info := &gate.RateLimitInfo{Remaining: -1, Limit: -1}
	if n, err := strconv.Atoi(remaining); err == nil {
		info.Remaining = n
	}
	if n, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = n
	}
	if epoch, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.ResetAt = time.Unix(epoch, 0).UTC()
	}
	return info
}
