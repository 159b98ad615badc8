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

// Command pulsed runs the ingestion daemon: the fetch scheduler, the
// timeline materializer and the inbound read API in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/config"
	"github.com/pulsehq/pulse/lib/defaults"
	"github.com/pulsehq/pulse/lib/gate"
	"github.com/pulsehq/pulse/lib/oauth"
	"github.com/pulsehq/pulse/lib/providers"
	"github.com/pulsehq/pulse/lib/scheduler"
	"github.com/pulsehq/pulse/lib/secret"
	"github.com/pulsehq/pulse/lib/services/local"
	"github.com/pulsehq/pulse/lib/snapshot"
	"github.com/pulsehq/pulse/lib/timeline"
	"github.com/pulsehq/pulse/lib/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Daemon exited with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := slog.Default()

	key, err := secret.KeyFromPassword(cfg.EncryptionKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return trace.Wrap(err)
	}

	identity, err := local.NewSQLite(filepath.Join(cfg.DataDir, "identity.db"))
	if err != nil {
		return trace.Wrap(err)
	}
	defer identity.Close()
	snapshots, err := snapshot.NewSQLite(filepath.Join(cfg.DataDir, "snapshots.db"), nil)
	if err != nil {
		return trace.Wrap(err)
	}
	defer snapshots.Close()

	gt, err := gate.New(gate.Config{States: identity})
	if err != nil {
		return trace.Wrap(err)
	}
	materializer, err := timeline.NewMaterializer(timeline.MaterializerConfig{Store: snapshots})
	if err != nil {
		return trace.Wrap(err)
	}

	var oauthService *oauth.Service
	if len(cfg.Connectors) > 0 {
		oauthService, err = oauth.NewService(oauth.Config{
			Identity:    identity,
			Gate:        gt,
			Key:         key,
			Connectors:  cfg.Connectors,
			AppURL:      cfg.AppURL,
			FrontendURL: cfg.FrontendURL,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}

	schedulerConfig := scheduler.Config{
		Identity:     identity,
		Snapshots:    snapshots,
		Providers:    buildProviders(cfg),
		Gate:         gt,
		Key:          key,
		Materializer: materializer,
		Interval:     cfg.TickInterval,
	}
	if oauthService != nil {
		schedulerConfig.Tokens = oauthService
	}
	sched, err := scheduler.New(schedulerConfig)
	if err != nil {
		return trace.Wrap(err)
	}

	api, err := web.NewAPIServer(web.Config{
		Identity:  identity,
		Snapshots: snapshots,
		Scheduler: sched,
		OAuth:     oauthService,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("Listening.", "addr", cfg.ListenAddr, "platforms", cfg.EnabledPlatforms())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- trace.Wrap(err)
			return
		}
		errCh <- nil
	}()
	go func() {
		if err := sched.Run(ctx); !errors.Is(err, context.Canceled) {
			errCh <- trace.Wrap(err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down.")
	case err := <-errCh:
		if err != nil {
			return trace.Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return trace.Wrap(server.Shutdown(shutdownCtx))
}

// buildProviders returns a live adapter for every enabled platform.
// Platforms without a connector are not fetched at all.
func buildProviders(cfg *config.Config) map[pulse.Platform]providers.Provider {
	client := providers.NewHTTPClient()
	out := make(map[pulse.Platform]providers.Provider)
	for _, platform := range cfg.EnabledPlatforms() {
		switch platform {
		case pulse.PlatformGitHub:
			out[platform] = providers.NewGitHub(providers.GitHubConfig{Client: client})
		case pulse.PlatformBluesky:
			out[platform] = providers.NewBluesky(providers.BlueskyConfig{Client: client, FeedLimit: defaults.FeedPageLimit})
		case pulse.PlatformYouTube:
			out[platform] = providers.NewYouTube(providers.YouTubeConfig{Client: client, FeedLimit: defaults.FeedPageLimit})
		case pulse.PlatformReddit:
			out[platform] = providers.NewReddit(providers.RedditConfig{Client: client, FeedLimit: defaults.FeedPageLimit})
		case pulse.PlatformTwitter:
			out[platform] = providers.NewTwitter(providers.TwitterConfig{Client: client, FeedLimit: defaults.FeedPageLimit})
		case pulse.PlatformTodoist:
			out[platform] = providers.NewTodoist(providers.TodoistConfig{Client: client})
		}
	}
	return out
}
