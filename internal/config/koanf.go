// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clipstream/config.yaml",
	"/etc/clipstream/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the
// config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and
// env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			Timeout:         30 * time.Second,
			AdminToken:      "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Bot: BotConfig{
			Enabled:        false,
			Token:          "",
			Admins:         []string{},
			BroadcastRate:  25, // messages per second across all recipients
			BroadcastBurst: 5,
		},
		Security: SecurityConfig{
			RateLimitPerIdentity: 30,
			RateLimitGlobal:      1000,
			RateWindow:           60 * time.Second,
			MaxLocatorLength:     2000,
			FailOpen:             false,
			Trust: TrustConfig{
				InitialScore:      100,
				ViolationPenalty:  15,
				RecoveryPerDay:    2,
				AutoBanViolations: 10,
				AutoBanScore:      20,
				DenyBelowScore:    20,
				UnblockScore:      75,
			},
		},
		Quota: QuotaConfig{
			FreeLimit: 15,
			Period:    time.Hour,
			Cooldown:  30 * time.Minute,
			CacheSize: 10000,
			CacheTTL:  5 * time.Minute,
		},
		Download: DownloadConfig{
			MaxConcurrent:   5,
			MaxFileSize:     50 << 20, // 50MiB delivery ceiling
			MaxDuration:     time.Hour,
			JobTimeout:      5 * time.Minute,
			ScratchDir:      "/data/scratch",
			ExtractorBinary: "yt-dlp",
			ScratchMaxAge:   time.Hour,
			CleanupInterval: 30 * time.Minute,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 60 * time.Second,
			},
		},
		Analytics: AnalyticsConfig{
			MaxEvents:      10000,
			JourneyLength:  50,
			SessionTimeout: 30 * time.Minute,
			Retention:      30 * 24 * time.Hour,
			SweepInterval:  time.Hour,
			Engagement: EngagementConfig{
				EventWeight:    2,
				EventCap:       40,
				VarietyWeight:  5,
				VarietyCap:     20,
				FrequencyCap:   20,
				DownloadWeight: 2,
				DownloadCap:    20,
			},
		},
		Database: DatabaseConfig{
			Path:       "/data/clipstream",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// BOT_TOKEN -> bot.token, QUOTA_FREE_LIMIT -> quota.free_limit
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"bot.admins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths.
//
// Examples:
//   - BOT_TOKEN -> bot.token
//   - QUOTA_FREE_LIMIT -> quota.free_limit
//   - DOWNLOAD_MAX_CONCURRENT -> download.max_concurrent
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":       "server.host",
		"http_port":       "server.port",
		"http_timeout":    "server.timeout",
		"admin_token":     "server.admin_token",
		"api_rate_limit":  "server.rate_limit_reqs",
		"api_rate_window": "server.rate_limit_window",

		// Bot gateway
		"bot_enabled":         "bot.enabled",
		"bot_token":           "bot.token",
		"bot_admins":          "bot.admins",
		"bot_broadcast_rate":  "bot.broadcast_rate",
		"bot_broadcast_burst": "bot.broadcast_burst",

		// Security / admission
		"security_rate_limit_per_identity": "security.rate_limit_per_identity",
		"security_rate_limit_global":       "security.rate_limit_global",
		"security_rate_window":             "security.rate_window",
		"security_max_locator_length":      "security.max_locator_length",
		"security_fail_open":               "security.fail_open",
		"trust_initial_score":              "security.trust.initial_score",
		"trust_violation_penalty":          "security.trust.violation_penalty",
		"trust_recovery_per_day":           "security.trust.recovery_per_day",
		"trust_auto_ban_violations":        "security.trust.auto_ban_violations",
		"trust_auto_ban_score":             "security.trust.auto_ban_score",
		"trust_deny_below_score":           "security.trust.deny_below_score",
		"trust_unblock_score":              "security.trust.unblock_score",

		// Quota
		"quota_free_limit": "quota.free_limit",
		"quota_period":     "quota.period",
		"quota_cooldown":   "quota.cooldown",
		"quota_cache_size": "quota.cache_size",
		"quota_cache_ttl":  "quota.cache_ttl",

		// Downloader
		"download_max_concurrent":   "download.max_concurrent",
		"download_max_file_size":    "download.max_file_size",
		"download_max_duration":     "download.max_duration",
		"download_job_timeout":      "download.job_timeout",
		"download_scratch_dir":      "download.scratch_dir",
		"download_extractor_binary": "download.extractor_binary",
		"download_scratch_max_age":  "download.scratch_max_age",
		"download_cleanup_interval": "download.cleanup_interval",
		"breaker_max_failures":      "download.breaker.max_failures",
		"breaker_open_timeout":      "download.breaker.open_timeout",

		// Analytics
		"analytics_max_events":      "analytics.max_events",
		"analytics_journey_length":  "analytics.journey_length",
		"analytics_session_timeout": "analytics.session_timeout",
		"analytics_retention":       "analytics.retention",
		"analytics_sweep_interval":  "analytics.sweep_interval",

		// Database
		"db_path":        "database.path",
		"db_in_memory":   "database.in_memory",
		"db_gc_interval": "database.gc_interval",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are dropped rather than guessed at.
	return ""
}
