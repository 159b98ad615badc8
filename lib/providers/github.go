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

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/gate"
)

// githubAPIURL is the default code host API base.
const githubAPIURL = "https://api.github.com"

// eventPages caps how many event pages are walked per fetch.
const eventPages = 3

// GitHubConfig configures the code host adapter.
type GitHubConfig struct {
	// Client is the http client, defaulted when nil.
	Client *http.Client
	// BaseURL overrides the API base in tests.
	BaseURL string
	// PageLimit caps items per listing call.
	PageLimit int
	// Log is the adapter's logger.
	Log *slog.Logger
}

func (c *GitHubConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = githubAPIURL
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaults.FeedPageLimit
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// GitHub fetches code host activity: push events, per-repo commits and
// pull requests.
type GitHub struct {
	cfg GitHubConfig
}

// NewGitHub returns the code host adapter.
func NewGitHub(cfg GitHubConfig) *GitHub {
	cfg.checkAndSetDefaults()
	return &GitHub{cfg: cfg}
}

// Platform implements Provider.
func (g *GitHub) Platform() pulse.Platform { return pulse.PlatformGitHub }

// wire types, trimmed to the fields the adapter consumes

type ghUser struct {
	Login string `json:"login"`
}

type ghEvent struct {
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload struct {
		Ref     string `json:"ref"`
		Commits []struct {
			SHA     string `json:"sha"`
			Message string `json:"message"`
		} `json:"commits"`
	} `json:"payload"`
	CreatedAt string `json:"created_at"`
}

type ghCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []struct {
		Filename string `json:"filename"`
	} `json:"files"`
}

type ghPull struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	CreatedAt    string `json:"created_at"`
	MergedAt     string `json:"merged_at"`
	HTMLURL      string `json:"html_url"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	ChangedFiles int    `json:"changed_files"`
}

type ghPullCommit struct {
	SHA string `json:"sha"`
}

// Fetch implements Provider.
func (g *GitHub) Fetch(ctx context.Context, token string) (*Envelope, error) {
	var limits *gate.RateLimitInfo
	track := func(h http.Header) {
		if info := rateLimitFromHeaders(h); info != nil {
			limits = info
		}
	}

	var user ghUser
	h, err := getJSON(ctx, g.cfg.Client, g.cfg.BaseURL+"/user", token, nil, &user)
	track(h)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if user.Login == "" {
		return nil, &ParseError{Msg: "user response is missing login"}
	}

	repos, branches, err := g.fetchPushedRepos(ctx, token, user.Login, track)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	raw := &GitHubRaw{
		Meta:  GitHubMeta{Username: user.Login, Repositories: repos},
		Repos: make(map[string]GitHubRepoData, len(repos)),
	}
	for _, repo := range repos {
		commits, err := g.fetchCommits(ctx, token, repo, user.Login, branches[repo], track)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		pulls, err := g.fetchPulls(ctx, token, repo, user.Login, track)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		raw.Repos[repo] = GitHubRepoData{Commits: commits, PullRequests: pulls}
	}
	return &Envelope{Payload: raw, RateLimit: limits}, nil
}

// fetchPushedRepos walks recent user events and returns the sorted set
// of repositories with push activity, plus the branch last pushed per
// repo.
func (g *GitHub) fetchPushedRepos(ctx context.Context, token, login string, track func(http.Header)) ([]string, map[string]string, error) {
	seen := make(map[string]struct{})
	branches := make(map[string]string)
	for page := 1; page <= eventPages; page++ {
		target := fmt.Sprintf("%s/users/%s/events?per_page=100&page=%d", g.cfg.BaseURL, url.PathEscape(login), page)
		var events []ghEvent
		h, err := getJSON(ctx, g.cfg.Client, target, token, nil, &events)
		track(h)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		for _, ev := range events {
			if ev.Type != "PushEvent" {
				continue
			}
			seen[ev.Repo.Name] = struct{}{}
			if _, ok := branches[ev.Repo.Name]; !ok {
				branches[ev.Repo.Name] = strings.TrimPrefix(ev.Payload.Ref, "refs/heads/")
			}
		}
		if len(events) < 100 {
			break
		}
	}
	repos := make([]string, 0, len(seen))
	for repo := range seen {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos, branches, nil
}

// fetchCommits lists commits authored by the account owner and fetches
// per-commit stats.
func (g *GitHub) fetchCommits(ctx context.Context, token, repo, login, branch string, track func(http.Header)) ([]GitHubCommit, error) {
	target := fmt.Sprintf("%s/repos/%s/commits?author=%s&per_page=%d", g.cfg.BaseURL, repo, url.QueryEscape(login), g.cfg.PageLimit)
	var listed []ghCommit
	h, err := getJSON(ctx, g.cfg.Client, target, token, nil, &listed)
	track(h)
	if err != nil {
		// a repo can disappear between the event feed and this call
		if IsAPIError(err) {
			g.cfg.Log.DebugContext(ctx, "Skipping unlistable repository.", "repo", repo, "error", err)
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}

	commits := make([]GitHubCommit, 0, len(listed))
	for _, c := range listed {
		detail := c
		// the list API omits stats; fetch the single-commit view
		h, err := getJSON(ctx, g.cfg.Client, fmt.Sprintf("%s/repos/%s/commits/%s", g.cfg.BaseURL, repo, c.SHA), token, nil, &detail)
		track(h)
		if err != nil {
			if IsAPIError(err) {
				detail = c
			} else {
				return nil, trace.Wrap(err)
			}
		}
		commits = append(commits, GitHubCommit{
			SHA:          c.SHA,
			Repo:         repo,
			Branch:       branch,
			Message:      c.Commit.Message,
			Timestamp:    c.Commit.Author.Date,
			URL:          c.HTMLURL,
			Additions:    detail.Stats.Additions,
			Deletions:    detail.Stats.Deletions,
			FilesChanged: len(detail.Files),
		})
	}
	return commits, nil
}

// fetchPulls lists the account owner's pull requests in all states and
// resolves the commit shas attached to each.
func (g *GitHub) fetchPulls(ctx context.Context, token, repo, login string, track func(http.Header)) ([]GitHubPullRequest, error) {
	target := fmt.Sprintf("%s/repos/%s/pulls?state=all&per_page=%d", g.cfg.BaseURL, repo, g.cfg.PageLimit)
	var listed []ghPull
	h, err := getJSON(ctx, g.cfg.Client, target, token, nil, &listed)
	track(h)
	if err != nil {
		if IsAPIError(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}

	var pulls []GitHubPullRequest
	for _, p := range listed {
		if p.User.Login != login {
			continue
		}
		var shas []string
		var commits []ghPullCommit
		h, err := getJSON(ctx, g.cfg.Client, fmt.Sprintf("%s/repos/%s/pulls/%d/commits?per_page=%d", g.cfg.BaseURL, repo, p.Number, g.cfg.PageLimit), token, nil, &commits)
		track(h)
		if err != nil && !IsAPIError(err) {
			return nil, trace.Wrap(err)
		}
		for _, c := range commits {
			shas = append(shas, c.SHA)
		}
		state := p.State
		merged := p.MergedAt != ""
		if merged {
			state = "merged"
		}
		pulls = append(pulls, GitHubPullRequest{
			Number:       p.Number,
			Repo:         repo,
			Title:        p.Title,
			State:        state,
			Merged:       merged,
			CommitSHAs:   shas,
			CreatedAt:    p.CreatedAt,
			MergedAt:     p.MergedAt,
			URL:          p.HTMLURL,
			Additions:    p.Additions,
			Deletions:    p.Deletions,
			ChangedFiles: p.ChangedFiles,
		})
	}
	return pulls, nil
}
