// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package main is the entry point for the Clipstream server.
//
// Clipstream is a multi-tenant media fetch service fronted by a chat
// bot. Users send video links through chat; the service validates the
// request, enforces per-identity quotas and trust scoring, fetches the
// media through an external extraction tool, and delivers the artifact
// back to the sender. An authenticated HTTP API exposes operational
// stats and admin actions.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and config files (Koanf v2)
//  2. Store: open the BadgerDB key-value store and hydrate block state
//  3. Admission: trust scoring, rate limiting, and locator validation
//  4. Quota: per-identity entitlement ledger with a TTL'd cache
//  5. Executor: bounded-concurrency fetch pipeline behind a circuit breaker
//  6. Gateway: chat front end (optional, BOT_ENABLED)
//  7. HTTP Server: health, metrics, and the admin API
//
// Everything long-running is owned by a suture supervision tree; a
// crashing sweep or gateway restart never takes the API down with it.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (BOT_TOKEN, QUOTA_FREE_LIMIT, ...)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// supervision tree drains, the HTTP server stops accepting
// connections, and in-flight fetch jobs are canceled.
//
// # Example Usage
//
// Chat gateway with the admin API:
//
//	export BOT_ENABLED=true
//	export BOT_TOKEN=your-bot-token
//	export SERVER_ADMIN_TOKEN=$(openssl rand -hex 32)
//	export DB_PATH=/data/clipstream
//	./clipstream
//
// API-only mode (no chat gateway):
//
//	export BOT_ENABLED=false
//	export SERVER_ADMIN_TOKEN=$(openssl rand -hex 32)
//	./clipstream
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipstream/clipstream/internal/analytics"
	"github.com/clipstream/clipstream/internal/api"
	"github.com/clipstream/clipstream/internal/bot"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/executor"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/orchestrator"
	"github.com/clipstream/clipstream/internal/quota"
	"github.com/clipstream/clipstream/internal/security"
	"github.com/clipstream/clipstream/internal/store"
	"github.com/clipstream/clipstream/internal/supervisor"
	"github.com/clipstream/clipstream/internal/trust"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("bot_enabled", cfg.Bot.Enabled).
		Str("db_path", cfg.Database.Path).
		Str("scratch_dir", cfg.Download.ScratchDir).
		Msg("Configuration loaded")

	if err := os.MkdirAll(cfg.Download.ScratchDir, 0o755); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create scratch directory")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// Admission: trust scoring feeds the auto-ban hook inside the
	// controller.
	trustStore := trust.NewStore(cfg.Security.Trust)
	admission := security.NewController(cfg.Security, trustStore)

	// Rehydrate blocks persisted by earlier runs.
	blocked, err := st.BlockedIdentities()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load persisted block state")
	}
	for id, reason := range blocked {
		admission.Block(id, reason)
	}
	if len(blocked) > 0 {
		logging.Info().Int("count", len(blocked)).Msg("Restored blocked identities")
	}

	ledger := quota.NewLedger(cfg.Quota, st)

	extractor := executor.NewBreakerExtractor(
		executor.NewYTDLPExtractor(cfg.Download.ExtractorBinary),
		cfg.Download.Breaker,
	)
	exec := executor.New(cfg.Download, extractor)

	events := analytics.NewAggregator(cfg.Analytics)

	orch := orchestrator.New(admission, ledger, exec, events, st)

	// Chat gateway is optional; the admin API runs either way.
	var gateway *bot.Gateway
	if cfg.Bot.Enabled {
		transport := bot.NewTelegramTransport(cfg.Bot.Token)
		gateway = bot.NewGateway(cfg.Bot, transport, orch, ledger, st, events)
	} else {
		logging.Info().Msg("Chat gateway disabled (BOT_ENABLED=false)")
	}

	deps := api.Deps{
		Admission: admission,
		Trust:     trustStore,
		Ledger:    ledger,
		Executor:  exec,
		Events:    events,
		Store:     st,
	}
	if gateway != nil {
		deps.Broadcaster = gateway
	}
	server := api.NewServer(cfg.Server, deps)

	// Bridge zerolog to slog for sutureslog compatibility.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(supervisor.NewPeriodicService(
		"store-gc", cfg.Database.GCInterval,
		func(ctx context.Context) error { return st.RunGC() },
	))

	if gateway != nil {
		tree.AddCoreService(gateway)
	}
	tree.AddCoreService(supervisor.NewPeriodicService(
		"scratch-sweep", cfg.Download.CleanupInterval,
		func(ctx context.Context) error {
			_, err := executor.SweepScratch(cfg.Download.ScratchDir, cfg.Download.ScratchMaxAge, time.Now())
			return err
		},
	))
	tree.AddCoreService(supervisor.NewPeriodicService(
		"analytics-sweep", cfg.Analytics.SweepInterval,
		func(ctx context.Context) error {
			events.Sweep()
			return nil
		},
	))
	tree.AddCoreService(supervisor.NewPeriodicService(
		"quota-cache-sweep", cfg.Quota.CacheTTL,
		func(ctx context.Context) error {
			ledger.CleanupCache()
			return nil
		},
	))
	tree.AddCoreService(supervisor.NewPeriodicService(
		"rate-window-sweep", cfg.Security.RateWindow,
		func(ctx context.Context) error {
			admission.CleanupWindows()
			return nil
		},
	))

	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	logging.Info().Msg("Application stopped gracefully")
}
