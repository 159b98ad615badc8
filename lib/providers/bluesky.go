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

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
)

// blueskyAPIURL is the default short-form feed XRPC base.
const blueskyAPIURL = "https://bsky.social/xrpc"

// BlueskyConfig configures the short-form feed adapter.
type BlueskyConfig struct {
	Client    *http.Client
	BaseURL   string
	FeedLimit int
}

func (c *BlueskyConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = blueskyAPIURL
	}
	if c.FeedLimit <= 0 {
		c.FeedLimit = defaults.FeedPageLimit
	}
}

// Bluesky paginates the author feed and extracts post records with
// engagement counts and media references.
type Bluesky struct {
	cfg BlueskyConfig
}

// NewBluesky returns the short-form feed adapter.
func NewBluesky(cfg BlueskyConfig) *Bluesky {
	cfg.checkAndSetDefaults()
	return &Bluesky{cfg: cfg}
}

// Platform implements Provider.
func (b *Bluesky) Platform() pulse.Platform { return pulse.PlatformBluesky }

type bskySession struct {
	Handle string `json:"handle"`
	DID    string `json:"did"`
}

type bskyFeedPage struct {
	Cursor string `json:"cursor"`
	Feed   []struct {
		Post struct {
			URI    string `json:"uri"`
			CID    string `json:"cid"`
			Record struct {
				Text      string `json:"text"`
				CreatedAt string `json:"createdAt"`
			} `json:"record"`
			Embed struct {
				Images []struct {
					Thumb string `json:"thumb"`
				} `json:"images"`
			} `json:"embed"`
			ReplyCount  int `json:"replyCount"`
			RepostCount int `json:"repostCount"`
			LikeCount   int `json:"likeCount"`
		} `json:"post"`
	} `json:"feed"`
}

// Fetch implements Provider.
func (b *Bluesky) Fetch(ctx context.Context, token string) (*Envelope, error) {
	var session bskySession
	if _, err := getJSON(ctx, b.cfg.Client, b.cfg.BaseURL+"/com.atproto.server.getSession", token, nil, &session); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.DID == "" {
		return nil, &ParseError{Msg: "session response is missing did"}
	}

	raw := &BlueskyRaw{Handle: session.Handle, DID: session.DID}
	cursor := ""
	for len(raw.Posts) < b.cfg.FeedLimit {
		target := fmt.Sprintf("%s/app.bsky.feed.getAuthorFeed?actor=%s&limit=%d",
			b.cfg.BaseURL, url.QueryEscape(session.DID), b.cfg.FeedLimit)
		if cursor != "" {
			target += "&cursor=" + url.QueryEscape(cursor)
		}
		var page bskyFeedPage
		if _, err := getJSON(ctx, b.cfg.Client, target, token, nil, &page); err != nil {
			return nil, trace.Wrap(err)
		}
		for _, entry := range page.Feed {
			if len(raw.Posts) >= b.cfg.FeedLimit {
				break
			}
			post := BlueskyPost{
				URI:         entry.Post.URI,
				CID:         entry.Post.CID,
				Text:        entry.Post.Record.Text,
				CreatedAt:   entry.Post.Record.CreatedAt,
				LikeCount:   entry.Post.LikeCount,
				RepostCount: entry.Post.RepostCount,
				ReplyCount:  entry.Post.ReplyCount,
			}
			if len(entry.Post.Embed.Images) > 0 {
				post.Thumbnail = entry.Post.Embed.Images[0].Thumb
			}
			raw.Posts = append(raw.Posts, post)
		}
		if page.Cursor == "" || len(page.Feed) == 0 {
			break
		}
		cursor = page.Cursor
	}
	return &Envelope{Payload: raw}, nil
}
