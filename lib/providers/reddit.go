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
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
)

// redditAPIURL is the default link aggregator API base.
const redditAPIURL = "https://oauth.reddit.com"

// redditUserAgent identifies the client; the aggregator rejects
// requests with a generic agent string.
const redditUserAgent = "pulse-timeline/1.0"

// RedditConfig configures the link aggregator adapter.
type RedditConfig struct {
	Client    *http.Client
	BaseURL   string
	FeedLimit int
}

func (c *RedditConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = redditAPIURL
	}
	if c.FeedLimit <= 0 {
		c.FeedLimit = defaults.FeedPageLimit
	}
}

// Reddit fetches user submissions and comments and maintains the
// account's meta record (karma, active subreddits).
type Reddit struct {
	cfg RedditConfig
}

// NewReddit returns the link aggregator adapter.
func NewReddit(cfg RedditConfig) *Reddit {
	cfg.checkAndSetDefaults()
	return &Reddit{cfg: cfg}
}

// Platform implements Provider.
func (r *Reddit) Platform() pulse.Platform { return pulse.PlatformReddit }

type redditMe struct {
	Name         string `json:"name"`
	LinkKarma    int    `json:"link_karma"`
	CommentKarma int    `json:"comment_karma"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Title      string  `json:"title"`
				SelfText   string  `json:"selftext"`
				Body       string  `json:"body"`
				Subreddit  string  `json:"subreddit"`
				Permalink  string  `json:"permalink"`
				CreatedUTC float64 `json:"created_utc"`
				Score      int     `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// epochToISO converts aggregator epoch seconds to an ISO-8601 string at
// the platform boundary; downstream layers never rewrite timestamps.
func epochToISO(epoch float64) string {
	return time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339)
}

// Fetch implements Provider.
func (r *Reddit) Fetch(ctx context.Context, token string) (*Envelope, error) {
	headers := map[string]string{"User-Agent": redditUserAgent}

	var me redditMe
	if _, err := getJSON(ctx, r.cfg.Client, r.cfg.BaseURL+"/api/v1/me", token, headers, &me); err != nil {
		return nil, trace.Wrap(err)
	}
	if me.Name == "" {
		return nil, &ParseError{Msg: "identity response is missing name"}
	}

	raw := &RedditRaw{
		Username: me.Name,
		Meta: RedditMeta{
			LinkKarma:    me.LinkKarma,
			CommentKarma: me.CommentKarma,
		},
	}
	subreddits := make(map[string]struct{})

	var posts redditListing
	target := fmt.Sprintf("%s/user/%s/submitted?limit=%d", r.cfg.BaseURL, url.PathEscape(me.Name), r.cfg.FeedLimit)
	if _, err := getJSON(ctx, r.cfg.Client, target, token, headers, &posts); err != nil {
		return nil, trace.Wrap(err)
	}
	for _, child := range posts.Data.Children {
		d := child.Data
		raw.Posts = append(raw.Posts, RedditPost{
			ID:        d.ID,
			Title:     d.Title,
			Subreddit: d.Subreddit,
			Body:      d.SelfText,
			Permalink: "https://www.reddit.com" + d.Permalink,
			CreatedAt: epochToISO(d.CreatedUTC),
			Score:     d.Score,
		})
		subreddits[d.Subreddit] = struct{}{}
	}

	var comments redditListing
	target = fmt.Sprintf("%s/user/%s/comments?limit=%d", r.cfg.BaseURL, url.PathEscape(me.Name), r.cfg.FeedLimit)
	if _, err := getJSON(ctx, r.cfg.Client, target, token, headers, &comments); err != nil {
		return nil, trace.Wrap(err)
	}
	for _, child := range comments.Data.Children {
		d := child.Data
		raw.Comments = append(raw.Comments, RedditComment{
			ID:        d.ID,
			Subreddit: d.Subreddit,
			Body:      d.Body,
			Permalink: "https://www.reddit.com" + d.Permalink,
			CreatedAt: epochToISO(d.CreatedUTC),
			Score:     d.Score,
		})
		subreddits[d.Subreddit] = struct{}{}
	}

	for sub := range subreddits {
		raw.Meta.ActiveSubreddits = append(raw.Meta.ActiveSubreddits, sub)
	}
	sort.Strings(raw.Meta.ActiveSubreddits)
	return &Envelope{Payload: raw}, nil
}
