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

// Package snapshot implements the append-only, content-addressed store
// of raw provider payloads and materialized timelines. Every write
// gets a monotonically increasing version within its store id; payload
// bytes are addressed by hash, so identical payloads dedupe at the
// bytes layer even when written at different versions.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pulsehq/pulse"
)

// Parent roles.
const (
	// RoleSource marks a raw snapshot that contributed to a derived
	// one.
	RoleSource = "source"
	// RoleDerivedFrom marks a previous version a snapshot was derived
	// from.
	RoleDerivedFrom = "derived_from"
)

// Ref points at a specific snapshot version with the role it played in
// producing a derived snapshot.
type Ref struct {
	StoreID string `json:"store_id"`
	Version int64  `json:"version"`
	Role    string `json:"role"`
}

// Metadata describes one stored snapshot version.
type Metadata struct {
	StoreID   string    `json:"store_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	// Hash is the hex sha256 of the payload bytes.
	Hash    string   `json:"hash"`
	Tags    []string `json:"tags,omitempty"`
	Parents []Ref    `json:"parents,omitempty"`
}

// PutOptions carries optional metadata attached at write time.
type PutOptions struct {
	Tags    []string
	Parents []Ref
}

// Store is the append-only snapshot store. A given (store id, version)
// pair is never rewritten, and GetLatest never goes backwards.
type Store interface {
	// Put appends a new version of the payload under storeID and
	// returns its metadata.
	Put(ctx context.Context, storeID string, payload []byte, opts PutOptions) (*Metadata, error)
	// GetLatest returns the highest version under storeID.
	GetLatest(ctx context.Context, storeID string) (*Metadata, []byte, error)
	// GetVersion returns a specific version under storeID.
	GetVersion(ctx context.Context, storeID string, version int64) (*Metadata, []byte, error)
	// Close releases the store.
	Close() error
}

// RawStoreID returns the store id of an account's raw snapshots.
func RawStoreID(platform pulse.Platform, accountID string) string {
	return "raw/" + string(platform) + "/" + accountID
}

// TimelineStoreID returns the store id of a user's materialized
// timeline.
func TimelineStoreID(userID string) string {
	return "timeline/" + userID
}

// HashPayload returns the hex sha256 content address of payload bytes.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
