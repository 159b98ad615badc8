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

package snapshot

import (
	"context"
	"slices"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	meta Metadata
	hash string
}

// Memory is an in-process Store used in tests and single-node
// deployments without durability requirements.
type Memory struct {
	clock clockwork.Clock

	mu sync.RWMutex
	// entries holds version metadata per store id, ascending.
	entries map[string][]memoryEntry
	// blobs holds payload bytes by content hash.
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory snapshot store.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:   clock,
		entries: make(map[string][]memoryEntry),
		blobs:   make(map[string][]byte),
	}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, storeID string, payload []byte, opts PutOptions) (*Metadata, error) {
	if storeID == "" {
		return nil, trace.BadParameter("missing parameter storeID")
	}
	hash := HashPayload(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.entries[storeID]
	var next int64 = 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].meta.Version + 1
	}
	meta := Metadata{
		StoreID:   storeID,
		Version:   next,
		CreatedAt: m.clock.Now().UTC(),
		Hash:      hash,
		Tags:      slices.Clone(opts.Tags),
		Parents:   slices.Clone(opts.Parents),
	}
	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = slices.Clone(payload)
	}
	m.entries[storeID] = append(versions, memoryEntry{meta: meta, hash: hash})
	return &meta, nil
}

// GetLatest implements Store.
func (m *Memory) GetLatest(ctx context.Context, storeID string) (*Metadata, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.entries[storeID]
	if len(versions) == 0 {
		return nil, nil, trace.NotFound("no snapshots under %q", storeID)
	}
	entry := versions[len(versions)-1]
	meta := entry.meta
	return &meta, slices.Clone(m.blobs[entry.hash]), nil
}

// GetVersion implements Store.
func (m *Memory) GetVersion(ctx context.Context, storeID string, version int64) (*Metadata, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.entries[storeID] {
		if entry.meta.Version == version {
			meta := entry.meta
			return &meta, slices.Clone(m.blobs[entry.hash]), nil
		}
	}
	return nil, nil, trace.NotFound("snapshot %q version %v is not found", storeID, version)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
