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

package timeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/snapshot"
)

// Source identifies one connected account whose latest raw snapshot
// feeds a user's timeline.
type Source struct {
	AccountID string
	Platform  pulse.Platform
}

// MaterializerConfig configures a Materializer.
type MaterializerConfig struct {
	// Store is the snapshot store raw payloads are read from and
	// timelines are written to.
	Store snapshot.Store
	// Log emits materialization diagnostics.
	Log *slog.Logger
}

func (c *MaterializerConfig) checkAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Log == nil {
		c.Log = slog.With(pulse.ComponentKey, pulse.ComponentMaterializer)
	}
	return nil
}

// Materializer builds per-user timeline snapshots from the latest raw
// snapshot of each connected account.
type Materializer struct {
	cfg MaterializerConfig
}

// NewMaterializer returns a Materializer backed by the given store.
func NewMaterializer(cfg MaterializerConfig) (*Materializer, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Materializer{cfg: cfg}, nil
}

// Materialize normalizes the latest raw snapshot of every source,
// groups the result and writes a new timeline snapshot version for the
// user, with parent refs recording exactly which raw versions it was
// derived from. Sources with no raw snapshot yet are skipped. The
// payload is a pure function of the source payload bytes, so rerunning
// over the same raw versions appends a byte-identical payload.
func (m *Materializer) Materialize(ctx context.Context, userID string, sources []Source) (*snapshot.Metadata, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}

	var items []Item
	var parents []snapshot.Ref
	for _, src := range sources {
		storeID := snapshot.RawStoreID(src.Platform, src.AccountID)
		meta, data, err := m.cfg.Store.GetLatest(ctx, storeID)
		if err != nil {
			if trace.IsNotFound(err) {
				continue
			}
			return nil, trace.Wrap(err)
		}
		normalized, err := Normalize(src.Platform, data)
		if err != nil {
			m.cfg.Log.WarnContext(ctx, "Skipping malformed raw snapshot.",
				"store_id", storeID, "version", meta.Version, "error", err)
			continue
		}
		items = append(items, normalized...)
		parents = append(parents, snapshot.Ref{
			StoreID: storeID,
			Version: meta.Version,
			Role:    snapshot.RoleSource,
		})
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i].StoreID < parents[j].StoreID })

	payload, err := json.Marshal(Snapshot{UserID: userID, Groups: Group(items)})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	meta, err := m.cfg.Store.Put(ctx, snapshot.TimelineStoreID(userID), payload, snapshot.PutOptions{
		Parents: parents,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m.cfg.Log.InfoContext(ctx, "Materialized timeline.",
		"user_id", userID, "version", meta.Version, "sources", len(parents), "items", len(items))
	return meta, nil
}
