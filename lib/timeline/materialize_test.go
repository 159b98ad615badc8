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
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/snapshot"
)

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemory(clockwork.NewFakeClock())
	m, err := NewMaterializer(MaterializerConfig{Store: store})
	require.NoError(t, err)

	rawID := snapshot.RawStoreID(pulse.PlatformGitHub, "acct-gh")
	_, err = store.Put(ctx, rawID, githubFixture(t), snapshot.PutOptions{})
	require.NoError(t, err)

	meta, err := m.Materialize(ctx, "user-1", []Source{
		{AccountID: "acct-gh", Platform: pulse.PlatformGitHub},
		// never fetched, skipped without error
		{AccountID: "acct-bs", Platform: pulse.PlatformBluesky},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), meta.Version)
	require.Equal(t, []snapshot.Ref{
		{StoreID: rawID, Version: 1, Role: snapshot.RoleSource},
	}, meta.Parents)

	_, data, err := store.GetLatest(ctx, snapshot.TimelineStoreID("user-1"))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, "user-1", snap.UserID)
	// merge day PR entry plus the commit group day
	require.Len(t, snap.Groups, 2)
	require.Equal(t, "2024-01-16", snap.Groups[0].Date)
	require.Equal(t, "2024-01-15", snap.Groups[1].Date)
	cg := snap.Groups[1].Items[0].CommitGroup
	require.NotNil(t, cg)
	require.Equal(t, 40, cg.TotalAdditions)
}

// Re-materializing over unchanged raw versions appends a new timeline
// version whose payload bytes are identical to the previous one.
func TestMaterializeReproducible(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemory(clockwork.NewFakeClock())
	m, err := NewMaterializer(MaterializerConfig{Store: store})
	require.NoError(t, err)

	_, err = store.Put(ctx, snapshot.RawStoreID(pulse.PlatformGitHub, "acct-gh"), githubFixture(t), snapshot.PutOptions{})
	require.NoError(t, err)
	sources := []Source{{AccountID: "acct-gh", Platform: pulse.PlatformGitHub}}

	first, err := m.Materialize(ctx, "user-1", sources)
	require.NoError(t, err)
	second, err := m.Materialize(ctx, "user-1", sources)
	require.NoError(t, err)

	require.Equal(t, first.Version+1, second.Version)
	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, first.Parents, second.Parents)
}

func TestMaterializeSkipsMalformedRaw(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemory(clockwork.NewFakeClock())
	m, err := NewMaterializer(MaterializerConfig{Store: store})
	require.NoError(t, err)

	_, err = store.Put(ctx, snapshot.RawStoreID(pulse.PlatformGitHub, "acct-bad"), []byte("not json"), snapshot.PutOptions{})
	require.NoError(t, err)

	meta, err := m.Materialize(ctx, "user-1", []Source{{AccountID: "acct-bad", Platform: pulse.PlatformGitHub}})
	require.NoError(t, err)
	// the bad source contributes nothing, not even a parent ref
	require.Empty(t, meta.Parents)
}

func TestMaterializeRequiresUser(t *testing.T) {
	store := snapshot.NewMemory(clockwork.NewFakeClock())
	m, err := NewMaterializer(MaterializerConfig{Store: store})
	require.NoError(t, err)
	_, err = m.Materialize(context.Background(), "", nil)
	require.Error(t, err)
}
