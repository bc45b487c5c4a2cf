// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package config provides layered configuration for Clipstream.
//
// Configuration is loaded in three layers with clear precedence:
//
//	Environment variables > YAML config file > built-in defaults
//
// All duration values accept Go duration strings ("30s", "5m", "1h").
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validation errors returned by Config.Validate.
var (
	ErrMissingBotToken      = errors.New("bot token is required when bot is enabled")
	ErrMissingAdminToken    = errors.New("admin API token is required when API auth is enabled")
	ErrInvalidQuotaWindow   = errors.New("quota period must be at least one minute")
	ErrInvalidConcurrency   = errors.New("downloader concurrency must be at least 1")
	ErrInvalidRateWindow    = errors.New("rate limit window must be positive")
	ErrInvalidTrustBounds   = errors.New("trust score bounds are inconsistent")
	ErrInvalidRetention     = errors.New("analytics retention must be at least one day")
	ErrInvalidEngagementCap = errors.New("engagement sub-term caps must be positive")
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Bot       BotConfig       `koanf:"bot"`
	Security  SecurityConfig  `koanf:"security"`
	Quota     QuotaConfig     `koanf:"quota"`
	Download  DownloadConfig  `koanf:"download"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the admin/ops HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// AdminToken authenticates admin API requests via the
	// Authorization: Bearer header. Empty disables admin routes.
	AdminToken string `koanf:"admin_token"`

	// RateLimitReqs is the per-IP request budget for the API
	// within RateLimitWindow.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// BotConfig configures the chat gateway.
type BotConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`

	// Admins lists identity IDs granted admin commands through chat.
	Admins []string `koanf:"admins"`

	// BroadcastRate caps outbound broadcast messages per second.
	BroadcastRate float64 `koanf:"broadcast_rate" validate:"min=0"`

	// BroadcastBurst is the burst allowance for broadcast sends.
	BroadcastBurst int `koanf:"broadcast_burst" validate:"min=1"`
}

// SecurityConfig configures admission control and the trust ledger.
type SecurityConfig struct {
	// RateLimitPerIdentity is the per-identity request budget within
	// RateWindow.
	RateLimitPerIdentity int `koanf:"rate_limit_per_identity" validate:"min=1"`

	// RateLimitGlobal is the service-wide request budget within
	// RateWindow.
	RateLimitGlobal int `koanf:"rate_limit_global" validate:"min=1"`

	// RateWindow is the sliding window for both rate scopes.
	RateWindow time.Duration `koanf:"rate_window"`

	// MaxLocatorLength caps accepted locator strings.
	MaxLocatorLength int `koanf:"max_locator_length" validate:"min=1"`

	// FailOpen admits requests when an internal security-check error
	// occurs. Default false: deny on internal failure.
	FailOpen bool `koanf:"fail_open"`

	Trust TrustConfig `koanf:"trust"`
}

// TrustConfig tunes the trust-score ledger.
type TrustConfig struct {
	// InitialScore is assigned to previously unseen identities.
	InitialScore float64 `koanf:"initial_score" validate:"min=0,max=100"`

	// ViolationPenalty is subtracted per recorded violation.
	ViolationPenalty float64 `koanf:"violation_penalty" validate:"min=0"`

	// RecoveryPerDay is credited per full day since the last violation.
	RecoveryPerDay float64 `koanf:"recovery_per_day" validate:"min=0"`

	// AutoBanViolations triggers a block once an identity reaches this
	// many violations.
	AutoBanViolations int `koanf:"auto_ban_violations" validate:"min=1"`

	// AutoBanScore triggers a block once the effective score falls to
	// or below this value.
	AutoBanScore float64 `koanf:"auto_ban_score" validate:"min=0,max=100"`

	// DenyBelowScore denies admission when the effective score is
	// below this value.
	DenyBelowScore float64 `koanf:"deny_below_score" validate:"min=0,max=100"`

	// UnblockScore is the score an identity is reset to on manual
	// unblock.
	UnblockScore float64 `koanf:"unblock_score" validate:"min=0,max=100"`
}

// QuotaConfig configures download quotas and premium entitlements.
type QuotaConfig struct {
	// FreeLimit is the number of downloads a free identity may commit
	// per period.
	FreeLimit int `koanf:"free_limit" validate:"min=1"`

	// Period is the quota accounting period.
	Period time.Duration `koanf:"period"`

	// Cooldown is enforced after the free limit is exhausted.
	Cooldown time.Duration `koanf:"cooldown"`

	// CacheSize bounds the in-memory entitlement cache.
	CacheSize int `koanf:"cache_size" validate:"min=1"`

	// CacheTTL expires cached entitlement records.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// DownloadConfig configures the job executor.
type DownloadConfig struct {
	// MaxConcurrent is the number of simultaneously running jobs.
	MaxConcurrent int `koanf:"max_concurrent" validate:"min=1"`

	// MaxFileSize rejects artifacts larger than this many bytes.
	MaxFileSize int64 `koanf:"max_file_size" validate:"min=1"`

	// MaxDuration rejects media longer than this at probe time.
	MaxDuration time.Duration `koanf:"max_duration"`

	// JobTimeout is the hard per-job deadline.
	JobTimeout time.Duration `koanf:"job_timeout"`

	// ScratchDir holds in-flight artifacts.
	ScratchDir string `koanf:"scratch_dir"`

	// ExtractorBinary is the external extraction tool to invoke.
	ExtractorBinary string `koanf:"extractor_binary"`

	// ScratchMaxAge is the age past which leftover scratch files are
	// deleted by the cleanup sweep.
	ScratchMaxAge time.Duration `koanf:"scratch_max_age"`

	// CleanupInterval is the period of the scratch cleanup sweep.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// Breaker tunes the circuit breaker around the extractor.
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the extraction circuit breaker.
type BreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive
	// failures.
	MaxFailures uint32 `koanf:"max_failures" validate:"min=1"`

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `koanf:"open_timeout"`
}

// AnalyticsConfig configures the event aggregator.
type AnalyticsConfig struct {
	// MaxEvents bounds the in-memory event ring buffer.
	MaxEvents int `koanf:"max_events" validate:"min=1"`

	// JourneyLength bounds per-identity journey history.
	JourneyLength int `koanf:"journey_length" validate:"min=1"`

	// SessionTimeout closes a session after this much inactivity.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// Retention is how long events are kept before the periodic sweep
	// discards them.
	Retention time.Duration `koanf:"retention"`

	// SweepInterval is the period of the retention sweep.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	Engagement EngagementConfig `koanf:"engagement"`
}

// EngagementConfig tunes engagement score weighting. Each sub-term is
// capped so no single dimension dominates the 0-100 score.
type EngagementConfig struct {
	EventWeight    float64 `koanf:"event_weight" validate:"min=0"`
	EventCap       float64 `koanf:"event_cap" validate:"min=0"`
	VarietyWeight  float64 `koanf:"variety_weight" validate:"min=0"`
	VarietyCap     float64 `koanf:"variety_cap" validate:"min=0"`
	FrequencyCap   float64 `koanf:"frequency_cap" validate:"min=0"`
	DownloadWeight float64 `koanf:"download_weight" validate:"min=0"`
	DownloadCap    float64 `koanf:"download_cap" validate:"min=0"`
}

// DatabaseConfig configures the embedded Badger store.
type DatabaseConfig struct {
	// Path is the Badger data directory.
	Path string `koanf:"path" validate:"required"`

	// InMemory runs the store without disk persistence. Test use only.
	InMemory bool `koanf:"in_memory"`

	// GCInterval is the period of the Badger value-log GC sweep.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency. Struct tag
// validation runs first, then cross-field checks that tags cannot
// express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Bot.Enabled && c.Bot.Token == "" {
		return ErrMissingBotToken
	}
	if c.Security.RateWindow <= 0 {
		return ErrInvalidRateWindow
	}
	if c.Quota.Period < time.Minute {
		return ErrInvalidQuotaWindow
	}
	if c.Download.MaxConcurrent < 1 {
		return ErrInvalidConcurrency
	}
	if c.Analytics.Retention < 24*time.Hour {
		return ErrInvalidRetention
	}

	t := c.Security.Trust
	if t.AutoBanScore > t.InitialScore || t.DenyBelowScore > t.InitialScore {
		return ErrInvalidTrustBounds
	}
	if t.UnblockScore <= t.AutoBanScore {
		return ErrInvalidTrustBounds
	}

	e := c.Analytics.Engagement
	if e.EventCap <= 0 || e.VarietyCap <= 0 || e.FrequencyCap <= 0 || e.DownloadCap <= 0 {
		return ErrInvalidEngagementCap
	}

	return nil
}
