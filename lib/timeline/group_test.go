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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse"
)

func commitItem(sha, repo, branch, msg, ts string, add, del, files int) Item {
	return Item{
		ID:        "github:commit:" + shortSHA(sha),
		Platform:  pulse.PlatformGitHub,
		Type:      TypeCommit,
		Timestamp: ts,
		Title:     firstLine(msg),
		Payload: Payload{Type: TypeCommit, Commit: &CommitPayload{
			SHA: sha, Repo: repo, Branch: branch, Message: msg,
			Additions: add, Deletions: del, FilesChanged: files,
		}},
	}
}

func postItem(platform pulse.Platform, id, title, ts string) Item {
	return Item{
		ID:        string(platform) + ":post:" + id,
		Platform:  platform,
		Type:      TypePost,
		Timestamp: ts,
		Title:     title,
		Payload:   Payload{Type: TypePost, Post: &PostPayload{Body: title}},
	}
}

// Two same-day commits to the same repo and branch fold into one commit
// group carrying summed stats.
func TestGroupFoldsSameDayCommits(t *testing.T) {
	items := []Item{
		commitItem("aaaaaaa000000000000000000000000000000000", "alice/x", "main", "fix parser", "2024-01-15T10:00:00Z", 10, 2, 1),
		commitItem("bbbbbbb000000000000000000000000000000000", "alice/x", "main", "add tests", "2024-01-15T12:30:00Z", 30, 0, 3),
	}

	groups := Group(items)
	require.Len(t, groups, 1)
	require.Equal(t, "2024-01-15", groups[0].Date)
	require.Len(t, groups[0].Items, 1)

	cg := groups[0].Items[0].CommitGroup
	require.NotNil(t, cg)
	require.Equal(t, "alice/x", cg.Repo)
	require.Equal(t, "main", cg.Branch)
	require.Equal(t, 40, cg.TotalAdditions)
	require.Equal(t, 2, cg.TotalDeletions)
	require.Equal(t, 4, cg.TotalFilesChanged)
	// newest commit first, group timestamp follows it
	require.Equal(t, "github:commit:bbbbbbb", cg.Commits[0].ID)
	require.Equal(t, "2024-01-15T12:30:00Z", cg.Timestamp)
}

// Commits on different branches or different UTC days never share a
// group.
func TestGroupSplitsByBranchAndDay(t *testing.T) {
	items := []Item{
		commitItem("aaaaaaa000000000000000000000000000000000", "alice/x", "main", "one", "2024-01-15T10:00:00Z", 1, 0, 1),
		commitItem("bbbbbbb000000000000000000000000000000000", "alice/x", "feature", "two", "2024-01-15T11:00:00Z", 1, 0, 1),
		// 23:30 UTC-5 would be the same local day but a later UTC one
		commitItem("ddddddd000000000000000000000000000000000", "alice/x", "main", "three", "2024-01-16T04:30:00Z", 1, 0, 1),
	}

	groups := Group(items)
	require.Len(t, groups, 2)
	require.Equal(t, "2024-01-16", groups[0].Date)
	require.Len(t, groups[0].Items, 1)
	require.Equal(t, "2024-01-15", groups[1].Date)
	require.Len(t, groups[1].Items, 2)
}

// Commits attached to a merged pull request disappear from the top
// level; the PR itself remains and keeps them in its payload.
func TestGroupDedupesMergedPRCommits(t *testing.T) {
	sha1 := "cccccc1000000000000000000000000000000000"
	sha2 := "cccccc2000000000000000000000000000000000"
	prPayload := &PullRequestPayload{
		Repo: "alice/x", Number: 42, State: "merged", Merged: true,
		CommitSHAs: []string{sha1, sha2},
	}
	items := []Item{
		commitItem(sha1, "alice/x", "main", "wip", "2024-01-15T09:00:00Z", 5, 1, 1),
		commitItem(sha2, "alice/x", "main", "done", "2024-01-15T10:00:00Z", 7, 0, 2),
		commitItem("aaaaaaa000000000000000000000000000000000", "alice/x", "main", "unrelated", "2024-01-15T11:00:00Z", 1, 0, 1),
		{
			ID: "github:pull_request:alice/x#42", Platform: pulse.PlatformGitHub,
			Type: TypePullRequest, Timestamp: "2024-01-16T17:00:00Z", Title: "Rework ingestion",
			Payload: Payload{Type: TypePullRequest, PullRequest: prPayload},
		},
	}

	groups := Group(items)
	require.Len(t, groups, 2)

	// only the PR on the merge day
	require.Len(t, groups[0].Items, 1)
	require.NotNil(t, groups[0].Items[0].Item)
	require.Equal(t, "github:pull_request:alice/x#42", groups[0].Items[0].Item.ID)

	// only the unrelated commit survives as a group
	require.Len(t, groups[1].Items, 1)
	cg := groups[1].Items[0].CommitGroup
	require.NotNil(t, cg)
	require.Len(t, cg.Commits, 1)
	require.Equal(t, "github:commit:aaaaaaa", cg.Commits[0].ID)
}

// An open PR does not suppress its commits.
func TestGroupKeepsOpenPRCommits(t *testing.T) {
	sha := "eeeeeee000000000000000000000000000000000"
	items := []Item{
		commitItem(sha, "alice/x", "main", "wip", "2024-01-15T09:00:00Z", 1, 0, 1),
		{
			ID: "github:pull_request:alice/x#7", Platform: pulse.PlatformGitHub,
			Type: TypePullRequest, Timestamp: "2024-01-15T10:00:00Z", Title: "Draft",
			Payload: Payload{Type: TypePullRequest, PullRequest: &PullRequestPayload{
				Repo: "alice/x", Number: 7, State: "open", CommitSHAs: []string{sha},
			}},
		},
	}

	groups := Group(items)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 2)
}

// Equal timestamps order by (platform, type, id) regardless of input
// order.
func TestGroupTieBreak(t *testing.T) {
	ts := "2024-03-01T12:00:00Z"
	a := postItem(pulse.PlatformBluesky, "zzz", "b post", ts)
	b := postItem(pulse.PlatformReddit, "t3_1", "r post", ts)
	c := postItem(pulse.PlatformBluesky, "aaa", "b post 2", ts)

	forward := Group([]Item{a, b, c})
	backward := Group([]Item{c, b, a})
	require.Empty(t, cmp.Diff(forward, backward))

	ids := []string{
		forward[0].Items[0].Item.ID,
		forward[0].Items[1].Item.ID,
		forward[0].Items[2].Item.ID,
	}
	require.Equal(t, []string{"bluesky:post:aaa", "bluesky:post:zzz", "reddit:post:t3_1"}, ids)
}

// Grouping already grouped entries changes nothing.
func TestRegroupIdempotent(t *testing.T) {
	items := []Item{
		commitItem("aaaaaaa000000000000000000000000000000000", "alice/x", "main", "one", "2024-01-15T10:00:00Z", 1, 0, 1),
		commitItem("bbbbbbb000000000000000000000000000000000", "alice/x", "main", "two", "2024-01-15T12:00:00Z", 2, 0, 1),
		postItem(pulse.PlatformTwitter, "900", "hello", "2024-01-14T08:00:00Z"),
	}
	once := Group(items)
	twice := Regroup(once)
	require.Empty(t, cmp.Diff(once, twice))
}
