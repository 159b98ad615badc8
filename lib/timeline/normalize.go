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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
)

// Title limits per item kind. Truncated titles end with a single
// ellipsis rune and never exceed the limit.
const (
	commitTitleLimit = defaults.CommitTitleLimit
	postTitleLimit   = defaults.PostTitleLimit
)

// Normalize converts a raw provider payload into normalized items.
// Normalization is pure: the same payload bytes always produce the
// same items in the same order.
func Normalize(platform pulse.Platform, data []byte) ([]Item, error) {
	switch platform {
	case pulse.PlatformGitHub:
		return normalizeGitHub(data)
	case pulse.PlatformBluesky:
		return normalizeBluesky(data)
	case pulse.PlatformYouTube:
		return normalizeYouTube(data)
	case pulse.PlatformReddit:
		return normalizeReddit(data)
	case pulse.PlatformTwitter:
		return normalizeTwitter(data)
	case pulse.PlatformTodoist:
		return normalizeTodoist(data)
	}
	return nil, trace.BadParameter("unsupported platform %q", platform)
}

func normalizeGitHub(data []byte) ([]Item, error) {
	var raw struct {
		Meta struct {
			Username string `json:"username"`
		} `json:"meta"`
		Repos map[string]struct {
			Commits []struct {
				SHA          string `json:"sha"`
				Repo         string `json:"repo"`
				Branch       string `json:"branch"`
				Message      string `json:"message"`
				Timestamp    string `json:"timestamp"`
				URL          string `json:"url"`
				Additions    int    `json:"additions"`
				Deletions    int    `json:"deletions"`
				FilesChanged int    `json:"files_changed"`
			} `json:"commits"`
			PullRequests []struct {
				Number       int      `json:"number"`
				Repo         string   `json:"repo"`
				Title        string   `json:"title"`
				State        string   `json:"state"`
				Merged       bool     `json:"merged"`
				CommitSHAs   []string `json:"commit_shas"`
				CreatedAt    string   `json:"created_at"`
				MergedAt     string   `json:"merged_at"`
				URL          string   `json:"url"`
				Additions    int      `json:"additions"`
				Deletions    int      `json:"deletions"`
				ChangedFiles int      `json:"changed_files"`
			} `json:"pull_requests"`
		} `json:"repos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}

	repos := make([]string, 0, len(raw.Repos))
	for repo := range raw.Repos {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	var items []Item
	for _, repo := range repos {
		rd := raw.Repos[repo]
		commitsBySHA := make(map[string]CommitPayload, len(rd.Commits))
		for _, c := range rd.Commits {
			payload := CommitPayload{
				SHA:          c.SHA,
				Repo:         c.Repo,
				Branch:       c.Branch,
				Message:      c.Message,
				Additions:    c.Additions,
				Deletions:    c.Deletions,
				FilesChanged: c.FilesChanged,
			}
			commitsBySHA[c.SHA] = payload
			items = append(items, Item{
				ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformGitHub, TypeCommit, shortSHA(c.SHA)),
				Platform:  pulse.PlatformGitHub,
				Type:      TypeCommit,
				Timestamp: c.Timestamp,
				Title:     truncate(firstLine(c.Message), commitTitleLimit),
				URL:       c.URL,
				Handle:    raw.Meta.Username,
				Payload:   Payload{Type: TypeCommit, Commit: &payload},
			})
		}
		for _, pr := range rd.PullRequests {
			ts := pr.CreatedAt
			if pr.Merged && pr.MergedAt != "" {
				ts = pr.MergedAt
			}
			payload := PullRequestPayload{
				Repo:         pr.Repo,
				Number:       pr.Number,
				State:        pr.State,
				Merged:       pr.Merged,
				CommitSHAs:   pr.CommitSHAs,
				Additions:    pr.Additions,
				Deletions:    pr.Deletions,
				ChangedFiles: pr.ChangedFiles,
			}
			// commits attached to the PR ride along with it so dedup at
			// the grouping layer does not lose them
			for _, sha := range pr.CommitSHAs {
				if c, ok := commitsBySHA[sha]; ok {
					payload.Commits = append(payload.Commits, c)
				}
			}
			items = append(items, Item{
				ID:        fmt.Sprintf("%v:%v:%v#%v", pulse.PlatformGitHub, TypePullRequest, pr.Repo, pr.Number),
				Platform:  pulse.PlatformGitHub,
				Type:      TypePullRequest,
				Timestamp: ts,
				Title:     pr.Title,
				URL:       pr.URL,
				Handle:    raw.Meta.Username,
				Payload:   Payload{Type: TypePullRequest, PullRequest: &payload},
			})
		}
	}
	return items, nil
}

func normalizeBluesky(data []byte) ([]Item, error) {
	var raw struct {
		Handle string `json:"handle"`
		Posts  []struct {
			URI         string `json:"uri"`
			Text        string `json:"text"`
			CreatedAt   string `json:"created_at"`
			LikeCount   int    `json:"like_count"`
			RepostCount int    `json:"repost_count"`
			ReplyCount  int    `json:"reply_count"`
			Thumbnail   string `json:"thumbnail"`
		} `json:"posts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}
	items := make([]Item, 0, len(raw.Posts))
	for _, p := range raw.Posts {
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformBluesky, TypePost, uriTail(p.URI)),
			Platform:  pulse.PlatformBluesky,
			Type:      TypePost,
			Timestamp: p.CreatedAt,
			Title:     truncate(firstLine(p.Text), postTitleLimit),
			URL:       blueskyPostURL(raw.Handle, p.URI),
			Handle:    raw.Handle,
			Payload: Payload{Type: TypePost, Post: &PostPayload{
				Body:      p.Text,
				Likes:     p.LikeCount,
				Reposts:   p.RepostCount,
				Replies:   p.ReplyCount,
				Thumbnail: p.Thumbnail,
			}},
		})
	}
	return items, nil
}

func normalizeYouTube(data []byte) ([]Item, error) {
	var raw struct {
		ChannelTitle string `json:"channel_title"`
		Videos       []struct {
			VideoID     string `json:"video_id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			PublishedAt string `json:"published_at"`
			Thumbnail   string `json:"thumbnail"`
			URL         string `json:"url"`
		} `json:"videos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}
	items := make([]Item, 0, len(raw.Videos))
	for _, v := range raw.Videos {
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformYouTube, TypeVideo, v.VideoID),
			Platform:  pulse.PlatformYouTube,
			Type:      TypeVideo,
			Timestamp: v.PublishedAt,
			Title:     v.Title,
			URL:       v.URL,
			Handle:    raw.ChannelTitle,
			Payload: Payload{Type: TypeVideo, Video: &VideoPayload{
				VideoID:     v.VideoID,
				Description: v.Description,
				Thumbnail:   v.Thumbnail,
			}},
		})
	}
	return items, nil
}

func normalizeReddit(data []byte) ([]Item, error) {
	var raw struct {
		Username string `json:"username"`
		Posts    []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Subreddit string `json:"subreddit"`
			Body      string `json:"body"`
			Permalink string `json:"permalink"`
			CreatedAt string `json:"created_at"`
			Score     int    `json:"score"`
		} `json:"posts"`
		Comments []struct {
			ID        string `json:"id"`
			Subreddit string `json:"subreddit"`
			Body      string `json:"body"`
			Permalink string `json:"permalink"`
			CreatedAt string `json:"created_at"`
			Score     int    `json:"score"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}
	var items []Item
	for _, p := range raw.Posts {
		title := p.Title
		if title == "" {
			title = firstLine(p.Body)
		}
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformReddit, TypePost, p.ID),
			Platform:  pulse.PlatformReddit,
			Type:      TypePost,
			Timestamp: p.CreatedAt,
			Title:     truncate(title, postTitleLimit),
			URL:       p.Permalink,
			Handle:    raw.Username,
			Payload: Payload{Type: TypePost, Post: &PostPayload{
				Body:      p.Body,
				Subreddit: p.Subreddit,
				Score:     p.Score,
			}},
		})
	}
	for _, c := range raw.Comments {
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformReddit, TypeComment, c.ID),
			Platform:  pulse.PlatformReddit,
			Type:      TypeComment,
			Timestamp: c.CreatedAt,
			Title:     truncate(firstLine(c.Body), postTitleLimit),
			URL:       c.Permalink,
			Handle:    raw.Username,
			Payload: Payload{Type: TypeComment, Comment: &CommentPayload{
				Body:      c.Body,
				Subreddit: c.Subreddit,
				Score:     c.Score,
			}},
		})
	}
	return items, nil
}

func normalizeTwitter(data []byte) ([]Item, error) {
	var raw struct {
		Username string `json:"username"`
		Tweets   []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
			Retweets  int    `json:"retweets"`
			Replies   int    `json:"replies"`
			Likes     int    `json:"likes"`
			Quotes    int    `json:"quotes"`
		} `json:"tweets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}
	items := make([]Item, 0, len(raw.Tweets))
	for _, t := range raw.Tweets {
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformTwitter, TypePost, t.ID),
			Platform:  pulse.PlatformTwitter,
			Type:      TypePost,
			Timestamp: t.CreatedAt,
			Title:     truncate(firstLine(t.Text), postTitleLimit),
			URL:       fmt.Sprintf("https://x.com/%v/status/%v", raw.Username, t.ID),
			Handle:    raw.Username,
			Payload: Payload{Type: TypePost, Post: &PostPayload{
				Body:    t.Text,
				Likes:   t.Likes,
				Reposts: t.Retweets,
				Replies: t.Replies,
				Quotes:  t.Quotes,
			}},
		})
	}
	return items, nil
}

func normalizeTodoist(data []byte) ([]Item, error) {
	var raw struct {
		Tasks []struct {
			ID        string `json:"id"`
			Content   string `json:"content"`
			ProjectID string `json:"project_id"`
			CreatedAt string `json:"created_at"`
			Due       string `json:"due"`
			Priority  int    `json:"priority"`
			URL       string `json:"url"`
			Completed bool   `json:"completed"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err)
	}
	items := make([]Item, 0, len(raw.Tasks))
	for _, task := range raw.Tasks {
		items = append(items, Item{
			ID:        fmt.Sprintf("%v:%v:%v", pulse.PlatformTodoist, TypeTask, task.ID),
			Platform:  pulse.PlatformTodoist,
			Type:      TypeTask,
			Timestamp: task.CreatedAt,
			Title:     truncate(firstLine(task.Content), postTitleLimit),
			URL:       task.URL,
			Payload: Payload{Type: TypeTask, Task: &TaskPayload{
				ProjectID: task.ProjectID,
				Due:       task.Due,
				Priority:  task.Priority,
				Completed: task.Completed,
			}},
		})
	}
	return items, nil
}

// shortSHA returns the 7 character commit id prefix.
func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// uriTail returns the record key of an AT URI, the last path segment.
func uriTail(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func blueskyPostURL(handle, uri string) string {
	if handle == "" {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%v/post/%v", handle, uriTail(uri))
}

// firstLine returns the first line of s, trimmed.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// truncate caps s at limit runes, replacing the tail with an ellipsis
// when it overflows. The result never exceeds limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
