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

// Package providers implements the per-platform fetch adapters. Every
// adapter maps HTTP outcomes onto a fixed error taxonomy and yields a
// typed raw payload that the normalizer later converts into timeline
// items.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/gate"
)

// Provider fetches one platform's raw activity for a single account.
// Implementations must be safe for concurrent use; the scheduler calls
// Fetch from its worker pool.
type Provider interface {
	// Platform returns the platform tag this adapter serves.
	Platform() pulse.Platform
	// Fetch pulls the account's recent activity using a plaintext
	// access token. The token must not outlive the call.
	Fetch(ctx context.Context, token string) (*Envelope, error)
}

// Envelope is a successful fetch result: the typed raw payload plus
// any rate limit information the provider exposed in headers.
type Envelope struct {
	// Payload is one of the *Raw types in this package.
	Payload any
	// RateLimit is provider-reported limit state, nil when the
	// platform does not expose it.
	RateLimit *gate.RateLimitInfo
}

// RateLimitedError means the provider asked to slow down.
type RateLimitedError struct {
	// RetryAfter is how long to wait before retrying.
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %v", e.RetryAfter)
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// RetryAfter extracts the retry-after hint from a rate limit error,
// zero if err is not one.
func RetryAfter(err error) time.Duration {
	var target *RateLimitedError
	if errors.As(err, &target) {
		return target.RetryAfter
	}
	return 0
}

// AuthExpiredError means the token was rejected or revoked.
type AuthExpiredError struct {
	// Msg is the provider-supplied detail.
	Msg string
}

// Error implements error.
func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("provider rejected credentials: %v", e.Msg)
}

// IsAuthExpired reports whether err is an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var target *AuthExpiredError
	return errors.As(err, &target)
}

// APIError means the provider returned a non-2xx status that is
// neither a rate limit nor an auth failure.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Msg is the provider-supplied detail.
	Msg string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %v: %v", e.Status, e.Msg)
}

// IsAPIError reports whether err is an APIError.
func IsAPIError(err error) bool {
	var target *APIError
	return errors.As(err, &target)
}

// ParseError means a provider response failed to decode.
type ParseError struct {
	// Msg describes what failed to decode.
	Msg string
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse provider response: %v", e.Msg)
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}
