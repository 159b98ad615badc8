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
	"strings"

	"github.com/pulsehq/pulse/lib/services"
)

// Query is a read-time window over a materialized timeline. Dates are
// UTC calendar dates in 2006-01-02 form; zero values leave the bound
// open. Limit caps the total number of entries returned, zero means
// unlimited.
type Query struct {
	From string
	To   string
	// Before keeps only dates strictly earlier than it, used for
	// cursor-style pagination together with Limit.
	Before string
	Limit  int
}

// FilterGroups applies a date window and entry cap to date groups.
// Snapshots are stored unfiltered, so this runs on every read.
func FilterGroups(groups []DateGroup, q Query) []DateGroup {
	var out []DateGroup
	total := 0
	for _, g := range groups {
		if q.From != "" && g.Date < q.From {
			continue
		}
		if q.To != "" && g.Date > q.To {
			continue
		}
		if q.Before != "" && g.Date >= q.Before {
			continue
		}
		kept := g.Items
		if q.Limit > 0 {
			if total >= q.Limit {
				break
			}
			if total+len(kept) > q.Limit {
				kept = kept[:q.Limit-total]
			}
		}
		total += len(kept)
		out = append(out, DateGroup{Date: g.Date, Items: kept})
	}
	return out
}

// ApplyProfileFilters applies include/exclude predicates to date
// groups. Excludes drop every matching entry; when at least one
// include exists for a key, entries that key applies to must match one
// of them. Date groups left empty are dropped.
func ApplyProfileFilters(groups []DateGroup, filters []services.ProfileFilter) []DateGroup {
	if len(filters) == 0 {
		return groups
	}
	includes := make(map[services.FilterKey][]services.ProfileFilter)
	var excludes []services.ProfileFilter
	for _, f := range filters {
		switch f.Type {
		case services.FilterInclude:
			includes[f.Key] = append(includes[f.Key], f)
		case services.FilterExclude:
			excludes = append(excludes, f)
		}
	}

	var out []DateGroup
	for _, g := range groups {
		var kept []Entry
		for _, entry := range g.Items {
			if entryAdmitted(entry, includes, excludes) {
				kept = append(kept, entry)
			}
		}
		if len(kept) > 0 {
			out = append(out, DateGroup{Date: g.Date, Items: kept})
		}
	}
	return out
}

func entryAdmitted(entry Entry, includes map[services.FilterKey][]services.ProfileFilter, excludes []services.ProfileFilter) bool {
	for _, f := range excludes {
		if matched, applies := matchFilter(entry, f); applies && matched {
			return false
		}
	}
	// include filters only constrain entries that carry the attribute
	// their key matches on
	for _, fs := range includes {
		applies := false
		matchedAny := false
		for _, f := range fs {
			matched, a := matchFilter(entry, f)
			applies = applies || a
			matchedAny = matchedAny || matched
		}
		if applies && !matchedAny {
			return false
		}
	}
	return true
}

// matchFilter reports whether the filter matches the entry and whether
// the filter's key even applies to this kind of entry.
func matchFilter(entry Entry, f services.ProfileFilter) (matched, applies bool) {
	switch f.Key {
	case services.FilterKeyRepo:
		repo := entryRepo(entry)
		return repo != "" && strings.EqualFold(repo, f.Value), repo != ""
	case services.FilterKeySubreddit:
		sub := entrySubreddit(entry)
		return sub != "" && strings.EqualFold(sub, f.Value), sub != ""
	case services.FilterKeyKeyword:
		title := entryTitle(entry)
		return strings.Contains(strings.ToLower(title), strings.ToLower(f.Value)), true
	case services.FilterKeyHandle:
		handle := entryHandle(entry)
		return handle != "" && strings.EqualFold(handle, f.Value), handle != ""
	}
	return false, false
}

func entryRepo(entry Entry) string {
	if entry.CommitGroup != nil {
		return entry.CommitGroup.Repo
	}
	if entry.Item == nil {
		return ""
	}
	if c := entry.Item.Payload.Commit; c != nil {
		return c.Repo
	}
	if pr := entry.Item.Payload.PullRequest; pr != nil {
		return pr.Repo
	}
	return ""
}

func entrySubreddit(entry Entry) string {
	if entry.Item == nil {
		return ""
	}
	if p := entry.Item.Payload.Post; p != nil {
		return p.Subreddit
	}
	if c := entry.Item.Payload.Comment; c != nil {
		return c.Subreddit
	}
	return ""
}

func entryTitle(entry Entry) string {
	if entry.CommitGroup != nil {
		var titles []string
		for _, c := range entry.CommitGroup.Commits {
			titles = append(titles, c.Title)
		}
		return strings.Join(titles, "\n")
	}
	if entry.Item != nil {
		return entry.Item.Title
	}
	return ""
}

func entryHandle(entry Entry) string {
	if entry.CommitGroup != nil && len(entry.CommitGroup.Commits) > 0 {
		return entry.CommitGroup.Commits[0].Handle
	}
	if entry.Item != nil {
		return entry.Item.Handle
	}
	return ""
}
