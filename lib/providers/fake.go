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
	"sync"
	"time"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/gate"
)

// Fake is a memory-backed Provider used in tests. It serves canned
// payloads, simulates rate limit and auth failures on demand, and
// counts calls.
type Fake struct {
	platform pulse.Platform

	mu        sync.Mutex
	payload   any
	rateLimit *gate.RateLimitInfo
	err       error
	calls     int
}

// NewFake returns a fake adapter for the given platform.
func NewFake(platform pulse.Platform) *Fake {
	return &Fake{platform: platform}
}

// Platform implements Provider.
func (f *Fake) Platform() pulse.Platform { return f.platform }

// SetPayload sets the canned payload returned by Fetch.
func (f *Fake) SetPayload(payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = payload
	f.err = nil
}

// SetRateLimitInfo sets provider-reported limits attached to
// successful fetches.
func (f *Fake) SetRateLimitInfo(info *gate.RateLimitInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimit = info
}

// SetError makes every subsequent Fetch fail with err.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SimulateRateLimit makes Fetch fail as if the provider returned 429.
func (f *Fake) SimulateRateLimit(retryAfter time.Duration) {
	f.SetError(&RateLimitedError{RetryAfter: retryAfter})
}

// SimulateAuthFailure makes Fetch fail as if the token was revoked.
func (f *Fake) SimulateAuthFailure() {
	f.SetError(&AuthExpiredError{Msg: "token revoked"})
}

// Calls returns how many times Fetch was invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Fetch implements Provider.
func (f *Fake) Fetch(ctx context.Context, token string) (*Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Envelope{Payload: f.payload, RateLimit: f.rateLimit}, nil
}
