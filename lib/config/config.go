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

// Package config reads service configuration from the environment.
// Platforms are enabled by presence: a platform with both its client
// id and client secret set gets a connector, everything else is
// skipped.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/oauth"
)

// Config is the assembled service configuration.
type Config struct {
	// EncryptionKey is the key material credentials are sealed under.
	// Required, at least 32 bytes.
	EncryptionKey string
	// DataDir is where the sqlite databases live.
	DataDir string
	// ListenAddr is the inbound API listen address.
	ListenAddr string
	// AppURL is the public base URL OAuth callbacks are registered
	// under.
	AppURL string
	// FrontendURL receives OAuth result redirects.
	FrontendURL string
	// TickInterval overrides the fetch period.
	TickInterval time.Duration
	// Debug enables debug logging.
	Debug bool
	// Connectors holds the OAuth settings of every enabled platform.
	Connectors map[pulse.Platform]oauth.Connector
}

// FromEnv builds a Config from the environment.
func FromEnv() (*Config, error) {
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		EncryptionKey: getenv("ENCRYPTION_KEY"),
		DataDir:       getenv("DATA_DIR"),
		ListenAddr:    getenv("LISTEN_ADDR"),
		AppURL:        getenv("APP_URL"),
		FrontendURL:   getenv("FRONTEND_URL"),
		Debug:         getenv("DEBUG") == "true" || getenv("DEBUG") == "1",
		Connectors:    make(map[pulse.Platform]oauth.Connector),
	}
	if raw := getenv("TICK_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, trace.BadParameter("TICK_INTERVAL must be a duration like 5m, got %q", raw)
		}
		cfg.TickInterval = interval
	}
	for _, platform := range pulse.Platforms {
		prefix := strings.ToUpper(string(platform))
		clientID := getenv(prefix + "_CLIENT_ID")
		clientSecret := getenv(prefix + "_CLIENT_SECRET")
		if clientID == "" && clientSecret == "" {
			continue
		}
		if clientID == "" || clientSecret == "" {
			return nil, trace.BadParameter(
				"platform %v needs both %v_CLIENT_ID and %v_CLIENT_SECRET", platform, prefix, prefix)
		}
		cfg.Connectors[platform] = oauth.Connector{
			Platform:     platform,
			ClientID:     clientID,
			ClientSecret: clientSecret,
		}
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// CheckAndSetDefaults validates required settings and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.EncryptionKey) < defaults.MinKeyMaterial {
		return trace.BadParameter(
			"ENCRYPTION_KEY must be set to at least %v bytes of key material", defaults.MinKeyMaterial)
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.AppURL == "" {
		c.AppURL = defaults.AppURL
	}
	if c.FrontendURL == "" {
		c.FrontendURL = defaults.FrontendURL
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.Connectors == nil {
		c.Connectors = make(map[pulse.Platform]oauth.Connector)
	}
	return nil
}

// EnabledPlatforms lists the platforms that have a connector, in the
// canonical order.
func (c *Config) EnabledPlatforms() []pulse.Platform {
	var out []pulse.Platform
	for _, platform := range pulse.Platforms {
		if _, ok := c.Connectors[platform]; ok {
			out = append(out, platform)
		}
	}
	return out
}
