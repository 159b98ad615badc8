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

// Package pulse contains constants shared across the pulse codebase.
package pulse

// ComponentKey is the log attribute key carrying the component tag.
const ComponentKey = "component"

const (
	// ComponentScheduler is the periodic fetch dispatcher.
	ComponentScheduler = "pulse:scheduler"

	// ComponentProvider is the per-platform fetch adapter layer.
	ComponentProvider = "pulse:provider"

	// ComponentMaterializer assembles per-user timeline snapshots.
	ComponentMaterializer = "pulse:materializer"

	// ComponentOAuth is the OAuth token lifecycle.
	ComponentOAuth = "pulse:oauth"

	// ComponentWeb is the inbound read API.
	ComponentWeb = "pulse:web"
)

// MetricNamespace is the prometheus namespace for all pulse metrics.
const MetricNamespace = "pulse"

// Platform identifies one of the supported external services.
type Platform string

const (
	// PlatformGitHub is the code hosting service.
	PlatformGitHub Platform = "github"
	// PlatformBluesky is the short-form social feed.
	PlatformBluesky Platform = "bluesky"
	// PlatformYouTube is the video platform.
	PlatformYouTube Platform = "youtube"
	// PlatformReddit is the link aggregator.
	PlatformReddit Platform = "reddit"
	// PlatformTwitter is the micro-blogging platform.
	PlatformTwitter Platform = "twitter"
	// PlatformTodoist is the task tracker.
	PlatformTodoist Platform = "todoist"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{
	PlatformGitHub,
	PlatformBluesky,
	PlatformYouTube,
	PlatformReddit,
	PlatformTwitter,
	PlatformTodoist,
}

// String returns the platform tag.
func (p Platform) String() string { return string(p) }

// IsValid reports whether p is a supported platform tag.
func (p Platform) IsValid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}
