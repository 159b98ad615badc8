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
	"fmt"
	"sort"
)

// Group assembles normalized items into the date-bucketed timeline
// shape. Commits whose full sha appears in a merged pull request are
// dropped from the top level (they remain attached to the PR payload),
// the surviving commits fold into per repo, per branch, per UTC day
// commit groups, and everything sorts newest first with a
// deterministic tie-break.
func Group(items []Item) []DateGroup {
	mergedSHAs := make(map[string]bool)
	for _, it := range items {
		if pr := it.Payload.PullRequest; pr != nil && pr.Merged {
			for _, sha := range pr.CommitSHAs {
				mergedSHAs[sha] = true
			}
		}
	}

	type groupKey struct {
		repo, branch, date string
	}
	commitGroups := make(map[groupKey]*CommitGroup)
	var keys []groupKey
	var entries []Entry

	for _, it := range items {
		if it.Type != TypeCommit {
			it := it
			entries = append(entries, Entry{Item: &it})
			continue
		}
		c := it.Payload.Commit
		if c == nil || mergedSHAs[c.SHA] {
			continue
		}
		key := groupKey{repo: c.Repo, branch: c.Branch, date: dateOf(it.Timestamp)}
		group, ok := commitGroups[key]
		if !ok {
			group = &CommitGroup{
				ID:       fmt.Sprintf("%v:%v:%v@%v@%v", it.Platform, TypeCommitGroup, key.repo, key.branch, key.date),
				Platform: it.Platform,
				Repo:     key.repo,
				Branch:   key.branch,
				Date:     key.date,
			}
			commitGroups[key] = group
			keys = append(keys, key)
		}
		group.Commits = append(group.Commits, it)
		group.TotalAdditions += c.Additions
		group.TotalDeletions += c.Deletions
		group.TotalFilesChanged += c.FilesChanged
	}

	for _, key := range keys {
		group := commitGroups[key]
		sort.SliceStable(group.Commits, func(i, j int) bool {
			ti, tj := parseTimestamp(group.Commits[i].Timestamp), parseTimestamp(group.Commits[j].Timestamp)
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return group.Commits[i].ID < group.Commits[j].ID
		})
		group.Timestamp = group.Date
		if len(group.Commits) > 0 && group.Commits[0].Timestamp != "" {
			group.Timestamp = group.Commits[0].Timestamp
		}
		entries = append(entries, Entry{CommitGroup: group})
	}

	return partition(entries)
}

// Regroup rebuilds the date buckets from existing entries. Grouping is
// idempotent: Regroup(Group(items)) equals Group(items).
func Regroup(groups []DateGroup) []DateGroup {
	var entries []Entry
	for _, g := range groups {
		entries = append(entries, g.Items...)
	}
	return partition(entries)
}

// partition sorts entries newest first and buckets them by UTC date.
func partition(entries []Entry) []DateGroup {
	sortEntries(entries)
	var groups []DateGroup
	for _, entry := range entries {
		date := dateOf(entry.Timestamp())
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DateGroup{Date: date})
		}
		groups[len(groups)-1].Items = append(groups[len(groups)-1].Items, entry)
	}
	return groups
}

// sortEntries orders entries by timestamp descending, breaking ties by
// (platform, type, id) ascending so equal-timestamp entries always
// land in the same order.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := parseTimestamp(entries[i].Timestamp()), parseTimestamp(entries[j].Timestamp())
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		pi, yi, idi := entries[i].sortKey()
		pj, yj, idj := entries[j].sortKey()
		if pi != pj {
			return pi < pj
		}
		if yi != yj {
			return yi < yj
		}
		return idi < idj
	})
}
