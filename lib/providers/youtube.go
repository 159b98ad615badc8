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

// youtubeAPIURL is the default video platform API base.
const youtubeAPIURL = "https://www.googleapis.com/youtube/v3"

// YouTubeConfig configures the video platform adapter.
type YouTubeConfig struct {
	Client    *http.Client
	BaseURL   string
	FeedLimit int
}

func (c *YouTubeConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = youtubeAPIURL
	}
	if c.FeedLimit <= 0 {
		c.FeedLimit = defaults.FeedPageLimit
	}
}

// YouTube paginates the uploads playlist and extracts snippet metadata
// with the highest-resolution thumbnail available.
type YouTube struct {
	cfg YouTubeConfig
}

// NewYouTube returns the video platform adapter.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	cfg.checkAndSetDefaults()
	return &YouTube{cfg: cfg}
}

// Platform implements Provider.
func (y *YouTube) Platform() pulse.Platform { return pulse.PlatformYouTube }

type ytThumbnails struct {
	Default struct {
		URL string `json:"url"`
	} `json:"default"`
	Medium struct {
		URL string `json:"url"`
	} `json:"medium"`
	High struct {
		URL string `json:"url"`
	} `json:"high"`
	Standard struct {
		URL string `json:"url"`
	} `json:"standard"`
	MaxRes struct {
		URL string `json:"url"`
	} `json:"maxres"`
}

// best returns the highest-resolution thumbnail present.
func (t ytThumbnails) best() string {
	for _, u := range []string{t.MaxRes.URL, t.Standard.URL, t.High.URL, t.Medium.URL, t.Default.URL} {
		if u != "" {
			return u
		}
	}
	return ""
}

type ytChannelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytPlaylistPage struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title       string       `json:"title"`
			Description string       `json:"description"`
			PublishedAt string       `json:"publishedAt"`
			Thumbnails  ytThumbnails `json:"thumbnails"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

// Fetch implements Provider.
func (y *YouTube) Fetch(ctx context.Context, token string) (*Envelope, error) {
	var channels ytChannelsResponse
	target := y.cfg.BaseURL + "/channels?part=snippet,contentDetails&mine=true"
	if _, err := getJSON(ctx, y.cfg.Client, target, token, nil, &channels); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(channels.Items) == 0 {
		return nil, &ParseError{Msg: "channels response has no items"}
	}
	channel := channels.Items[0]
	uploads := channel.ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return nil, &ParseError{Msg: "channel has no uploads playlist"}
	}

	raw := &YouTubeRaw{ChannelID: channel.ID, ChannelTitle: channel.Snippet.Title}
	pageToken := ""
	for len(raw.Videos) < y.cfg.FeedLimit {
		target := fmt.Sprintf("%s/playlistItems?part=snippet&playlistId=%s&maxResults=%d",
			y.cfg.BaseURL, url.QueryEscape(uploads), y.cfg.FeedLimit)
		if pageToken != "" {
			target += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page ytPlaylistPage
		if _, err := getJSON(ctx, y.cfg.Client, target, token, nil, &page); err != nil {
			return nil, trace.Wrap(err)
		}
		for _, item := range page.Items {
			if len(raw.Videos) >= y.cfg.FeedLimit {
				break
			}
			videoID := item.Snippet.ResourceID.VideoID
			raw.Videos = append(raw.Videos, YouTubeVideo{
				VideoID:     videoID,
				Title:       item.Snippet.Title,
				Description: item.Snippet.Description,
				PublishedAt: item.Snippet.PublishedAt,
				Thumbnail:   item.Snippet.Thumbnails.best(),
				URL:         "https://www.youtube.com/watch?v=" + videoID,
			})
		}
		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return &Envelope{Payload: raw}, nil
}
