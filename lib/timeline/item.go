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

// Package timeline converts raw provider payloads into the common
// timeline schema, groups and deduplicates them, and materializes
// per-user timeline snapshots.
package timeline

import (
	"time"

	"github.com/pulsehq/pulse"
)

// ItemType classifies a normalized activity record.
type ItemType string

const (
	// TypeCommit is a single code commit.
	TypeCommit ItemType = "commit"
	// TypePullRequest is a pull request.
	TypePullRequest ItemType = "pull_request"
	// TypePost is a social post, link submission or micro-blog entry.
	TypePost ItemType = "post"
	// TypeComment is a comment on someone else's content.
	TypeComment ItemType = "comment"
	// TypeVideo is an uploaded video.
	TypeVideo ItemType = "video"
	// TypeTask is a tracked task.
	TypeTask ItemType = "task"
	// TypeCommitGroup tags the derived commit group entries.
	TypeCommitGroup ItemType = "commit_group"
)

// Item is the normalized activity record. Ids are deterministic:
// {platform}:{type}:{stable key} where the stable key is the
// platform's own immutable identifier.
type Item struct {
	ID        string         `json:"id"`
	Platform  pulse.Platform `json:"platform"`
	Type      ItemType       `json:"type"`
	Timestamp string         `json:"timestamp"`
	Title     string         `json:"title"`
	URL       string         `json:"url,omitempty"`
	// Handle is the platform handle of the account the item came
	// from, used by profile filters.
	Handle  string  `json:"handle,omitempty"`
	Payload Payload `json:"payload"`
}

// Payload is the type-tagged variant carried by every item. The tag is
// redundant with Item.Type so consumers can pattern match on the
// payload alone.
type Payload struct {
	Type        ItemType            `json:"type"`
	Commit      *CommitPayload      `json:"commit,omitempty"`
	PullRequest *PullRequestPayload `json:"pull_request,omitempty"`
	Post        *PostPayload        `json:"post,omitempty"`
	Comment     *CommentPayload     `json:"comment,omitempty"`
	Video       *VideoPayload       `json:"video,omitempty"`
	Task        *TaskPayload        `json:"task,omitempty"`
}

// CommitPayload carries commit details. SHA is the full hash; the item
// id uses the truncated form.
type CommitPayload struct {
	SHA          string `json:"sha"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch,omitempty"`
	Message      string `json:"message"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	FilesChanged int    `json:"files_changed"`
}

// PullRequestPayload carries pull request details including the full
// shas of its attached commits.
type PullRequestPayload struct {
	Repo       string   `json:"repo"`
	Number     int      `json:"number"`
	State      string   `json:"state"`
	Merged     bool     `json:"merged"`
	CommitSHAs []string `json:"commit_shas,omitempty"`
	// Commits are the attached commits that were also present in the
	// raw payload, kept here after top-level dedup.
	Commits      []CommitPayload `json:"commits,omitempty"`
	Additions    int             `json:"additions"`
	Deletions    int             `json:"deletions"`
	ChangedFiles int             `json:"changed_files"`
}

// PostPayload carries post details across the social platforms.
type PostPayload struct {
	Body      string `json:"body,omitempty"`
	Subreddit string `json:"subreddit,omitempty"`
	Score     int    `json:"score,omitempty"`
	Likes     int    `json:"likes,omitempty"`
	Reposts   int    `json:"reposts,omitempty"`
	Replies   int    `json:"replies,omitempty"`
	Quotes    int    `json:"quotes,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// CommentPayload carries comment details.
type CommentPayload struct {
	Body      string `json:"body"`
	Subreddit string `json:"subreddit,omitempty"`
	Score     int    `json:"score,omitempty"`
}

// VideoPayload carries video details.
type VideoPayload struct {
	VideoID     string `json:"video_id"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// TaskPayload carries task details.
type TaskPayload struct {
	ProjectID string `json:"project_id,omitempty"`
	Due       string `json:"due,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// CommitGroup folds a sequence of same-repo, same-branch, same-day
// commits into one derived entry.
type CommitGroup struct {
	ID       string         `json:"id"`
	Platform pulse.Platform `json:"platform"`
	Repo     string         `json:"repo"`
	Branch   string         `json:"branch,omitempty"`
	// Date is the UTC calendar date shared by the grouped commits.
	Date string `json:"date"`
	// Timestamp is the latest commit's timestamp, falling back to the
	// group's date.
	Timestamp string `json:"timestamp"`
	// Commits are the grouped commit items, newest first.
	Commits           []Item `json:"commits"`
	TotalAdditions    int    `json:"total_additions"`
	TotalDeletions    int    `json:"total_deletions"`
	TotalFilesChanged int    `json:"total_files_changed"`
}

// Entry is either a plain item or a derived commit group; exactly one
// field is set.
type Entry struct {
	Item        *Item        `json:"item,omitempty"`
	CommitGroup *CommitGroup `json:"commit_group,omitempty"`
}

// Timestamp returns the entry's sort timestamp.
func (e Entry) Timestamp() string {
	if e.CommitGroup != nil {
		return e.CommitGroup.Timestamp
	}
	if e.Item != nil {
		return e.Item.Timestamp
	}
	return ""
}

// sortKey returns the (platform, type, id) tuple used to break
// equal-timestamp ties deterministically.
func (e Entry) sortKey() (string, string, string) {
	if e.CommitGroup != nil {
		return string(e.CommitGroup.Platform), string(TypeCommitGroup), e.CommitGroup.ID
	}
	if e.Item != nil {
		return string(e.Item.Platform), string(e.Item.Type), e.Item.ID
	}
	return "", "", ""
}

// DateGroup is the top-level bucket of a timeline snapshot: one UTC
// calendar date and its entries, newest first.
type DateGroup struct {
	Date  string  `json:"date"`
	Items []Entry `json:"items"`
}

// Snapshot is the materialized per-user timeline payload. It contains
// no wall-clock values, so materializing the same raw snapshot
// versions twice produces identical bytes.
type Snapshot struct {
	UserID string      `json:"user_id"`
	Groups []DateGroup `json:"groups"`
}

// parseTimestamp parses an ISO-8601 timestamp, returning the zero time
// when it cannot be parsed (such entries sort last).
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// dateOf returns the UTC calendar date of an ISO-8601 timestamp.
func dateOf(s string) string {
	if t := parseTimestamp(s); !t.IsZero() {
		return t.UTC().Format("2006-01-02")
	}
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}
