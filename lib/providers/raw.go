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

package providers

// Raw payload shapes, one per platform. These are what gets persisted
// as raw snapshots, so every field is part of the stored format. All
// timestamps are ISO-8601 strings; adapters convert at the platform
// boundary when a provider reports epoch seconds.

// GitHubMeta describes the fetched code host account.
type GitHubMeta struct {
	Username     string   `json:"username"`
	Repositories []string `json:"repositories"`
}

// GitHubCommit is a single commit authored by the account owner.
type GitHubCommit struct {
	SHA          string `json:"sha"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch,omitempty"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	URL          string `json:"url,omitempty"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	FilesChanged int    `json:"files_changed"`
}

// GitHubPullRequest is a pull request authored by the account owner.
type GitHubPullRequest struct {
	Number       int      `json:"number"`
	Repo         string   `json:"repo"`
	Title        string   `json:"title"`
	State        string   `json:"state"`
	Merged       bool     `json:"merged"`
	CommitSHAs   []string `json:"commit_shas,omitempty"`
	CreatedAt    string   `json:"created_at"`
	MergedAt     string   `json:"merged_at,omitempty"`
	URL          string   `json:"url,omitempty"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	ChangedFiles int      `json:"changed_files"`
}

// GitHubRepoData groups one repository's commits and pull requests.
type GitHubRepoData struct {
	Commits      []GitHubCommit      `json:"commits"`
	PullRequests []GitHubPullRequest `json:"pull_requests"`
}

// GitHubRaw is the code host raw payload.
type GitHubRaw struct {
	Meta  GitHubMeta                `json:"meta"`
	Repos map[string]GitHubRepoData `json:"repos"`
}

// BlueskyPost is a single short-form feed post.
type BlueskyPost struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	LikeCount   int    `json:"like_count"`
	RepostCount int    `json:"repost_count"`
	ReplyCount  int    `json:"reply_count"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// BlueskyRaw is the short-form feed raw payload.
type BlueskyRaw struct {
	Handle string        `json:"handle"`
	DID    string        `json:"did"`
	Posts  []BlueskyPost `json:"posts"`
}

// YouTubeVideo is an uploaded video's snippet metadata.
type YouTubeVideo struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PublishedAt string `json:"published_at"`
	// Thumbnail is the highest-resolution thumbnail available.
	Thumbnail string `json:"thumbnail,omitempty"`
	URL       string `json:"url,omitempty"`
}

// YouTubeRaw is the video platform raw payload.
type YouTubeRaw struct {
	ChannelID    string         `json:"channel_id"`
	ChannelTitle string         `json:"channel_title"`
	Videos       []YouTubeVideo `json:"videos"`
}

// RedditPost is a link aggregator submission.
type RedditPost struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subreddit string `json:"subreddit"`
	Body      string `json:"body,omitempty"`
	Permalink string `json:"permalink"`
	CreatedAt string `json:"created_at"`
	Score     int    `json:"score"`
}

// RedditComment is a link aggregator comment.
type RedditComment struct {
	ID        string `json:"id"`
	Subreddit string `json:"subreddit"`
	Body      string `json:"body"`
	Permalink string `json:"permalink"`
	CreatedAt string `json:"created_at"`
	Score     int    `json:"score"`
}

// RedditMeta is auxiliary account data surfaced only through the raw
// snapshot read endpoint.
type RedditMeta struct {
	LinkKarma        int      `json:"link_karma"`
	CommentKarma     int      `json:"comment_karma"`
	ActiveSubreddits []string `json:"active_subreddits"`
}

// RedditRaw is the link aggregator raw payload.
type RedditRaw struct {
	Username string          `json:"username"`
	Posts    []RedditPost    `json:"posts"`
	Comments []RedditComment `json:"comments"`
	Meta     RedditMeta      `json:"meta"`
}

// Tweet is a micro-blog post with public metrics.
type Tweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Retweets  int    `json:"retweets"`
	Replies   int    `json:"replies"`
	Likes     int    `json:"likes"`
	Quotes    int    `json:"quotes"`
}

// TwitterRaw is the micro-blog raw payload.
type TwitterRaw struct {
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Tweets   []Tweet `json:"tweets"`
}

// TodoistTask is a tracked task.
type TodoistTask struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Due       string `json:"due,omitempty"`
	Priority  int    `json:"priority"`
	URL       string `json:"url,omitempty"`
	Completed bool   `json:"completed"`
}

// TodoistRaw is the task tracker raw payload.
type TodoistRaw struct {
	Tasks []TodoistTask `json:"tasks"`
}
