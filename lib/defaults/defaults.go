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

// Package defaults contains default constants set in various parts of
// the pulse codebase.
package defaults

import "time"

const (
	// TickInterval is how often the scheduler wakes up to fetch
	// all active accounts.
	TickInterval = 5 * time.Minute

	// TickBudget is the wall-clock budget for a single tick. It is
	// deliberately shorter than TickInterval so ticks never overlap.
	TickBudget = 4 * time.Minute

	// FetchConcurrency caps how many provider fetches run at once
	// within a tick.
	FetchConcurrency = 16

	// ProviderTimeout bounds a single outbound HTTP call to a provider.
	ProviderTimeout = 20 * time.Second

	// BackoffBase is the circuit breaker backoff after the first
	// consecutive failure. It doubles per failure.
	BackoffBase = time.Minute

	// BackoffMax caps the circuit breaker backoff.
	BackoffMax = 30 * time.Minute

	// FeedPageLimit caps how many feed items the paginating adapters
	// collect per fetch.
	FeedPageLimit = 50

	// KeyIterations is the PBKDF2 iteration count used to derive the
	// credential encryption key from configured key material.
	KeyIterations = 100000

	// MinKeyMaterial is the minimum length of configured encryption
	// key material, in bytes.
	MinKeyMaterial = 32

	// AppURL is the default base URL for OAuth redirect URIs.
	AppURL = "http://localhost:8787"

	// FrontendURL is the default base for OAuth error and success
	// redirects.
	FrontendURL = "http://localhost:4321"

	// ListenAddr is the default address of the inbound read API.
	ListenAddr = "127.0.0.1:8787"

	// CommitTitleLimit is the maximum length of a normalized commit
	// title before truncation.
	CommitTitleLimit = 72

	// PostTitleLimit is the maximum length of a normalized post title
	// before truncation.
	PostTitleLimit = 100
)
