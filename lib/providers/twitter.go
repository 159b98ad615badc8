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

// twitterAPIURL is the default micro-blog API base.
const twitterAPIURL = "https://api.twitter.com/2"

// TwitterConfig configures the micro-blog adapter.
type TwitterConfig struct {
	Client    *http.Client
	BaseURL   string
	FeedLimit int
}

func (c *TwitterConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = twitterAPIURL
	}
	if c.FeedLimit <= 0 {
		c.FeedLimit = defaults.FeedPageLimit
	}
}

// Twitter fetches recent author tweets with public metrics.
type Twitter struct {
	cfg TwitterConfig
}

// NewTwitter returns the micro-blog adapter.
func NewTwitter(cfg TwitterConfig) *Twitter {
	cfg.checkAndSetDefaults()
	return &Twitter{cfg: cfg}
}

// Platform implements Provider.
func (t *Twitter) Platform() pulse.Platform { return pulse.PlatformTwitter }

type twitterMe struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type twitterTimeline struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// Fetch implements Provider.
func (t *Twitter) Fetch(ctx context.Context, token string) (*Envelope, error) {
	var me twitterMe
	if _, err := getJSON(ctx, t.cfg.Client, t.cfg.BaseURL+"/users/me", token, nil, &me); err != nil {
		return nil, trace.Wrap(err)
	}
	if me.Data.ID == "" {
		return nil, &ParseError{Msg: "identity response is missing id"}
	}

	target := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&tweet.fields=created_at,public_metrics",
		t.cfg.BaseURL, url.PathEscape(me.Data.ID), t.cfg.FeedLimit)
	var timeline twitterTimeline
	if _, err := getJSON(ctx, t.cfg.Client, target, token, nil, &timeline); err != nil {
		return nil, trace.Wrap(err)
	}

	raw := &TwitterRaw{UserID: me.Data.ID, Username: me.Data.Username}
	for _, tw := range timeline.Data {
		raw.Tweets = append(raw.Tweets, Tweet{
			ID:        tw.ID,
			Text:      tw.Text,
			CreatedAt: tw.CreatedAt,
			Retweets:  tw.PublicMetrics.RetweetCount,
			Replies:   tw.PublicMetrics.ReplyCount,
			Likes:     tw.PublicMetrics.LikeCount,
			Quotes:    tw.PublicMetrics.QuoteCount,
		})
	}
	return &Envelope{Payload: raw}, nil
}
