// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package security implements admission control: the gate every
// inbound request passes before it can spend quota or occupy an
// executor slot. A request is admitted only when the identity is not
// blocked, both rate scopes have headroom, the trust score clears the
// floor, and the locator is well formed and free of denylisted
// patterns.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/cache"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/trust"
)

// DenialReason identifies which admission stage denied a request.
type DenialReason string

// Admission denial reasons. Verdict.Reason is empty on admission.
const (
	DenyBlocked        DenialReason = "blocked"
	DenyRateIdentity   DenialReason = "rate_limit_identity"
	DenyRateGlobal     DenialReason = "rate_limit_global"
	DenyTrust          DenialReason = "trust_score"
	DenyInvalidLocator DenialReason = "invalid_locator"
	DenyMalicious      DenialReason = "malicious_input"
	DenyInternal       DenialReason = "internal_error"
)

// Verdict is the outcome of an admission check. Denials are expected
// outcomes, not errors.
type Verdict struct {
	Allowed bool
	Reason  DenialReason

	// MediaID is the extracted media ID when the locator validated.
	MediaID string

	// TrustLevel is the identity's trust band at check time.
	TrustLevel trust.Level

	// RetryAfter hints when a rate-limited caller may retry.
	RetryAfter time.Duration
}

// blockEntry records why and when an identity was blocked.
type blockEntry struct {
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Controller performs admission checks. Safe for concurrent use.
type Controller struct {
	cfg   config.SecurityConfig
	trust *trust.Store
	rates *cache.RateWindowStore

	mu      sync.RWMutex
	blocked map[string]blockEntry

	// seenMalicious tracks identities with a prior malicious-input
	// detection. The first occurrence is logged and counted but not
	// scored as a trust violation; pattern matching has false
	// positives and a single hit should not start the penalty ladder.
	seenMalicious map[string]bool

	log zerolog.Logger
}

// NewController creates an admission controller. The trust store's
// auto-ban callback is wired to the controller's block set.
func NewController(cfg config.SecurityConfig, trustStore *trust.Store) *Controller {
	c := &Controller{
		cfg:           cfg,
		trust:         trustStore,
		rates:         cache.NewRateWindowStore(cfg.RateWindow),
		blocked:       make(map[string]blockEntry),
		seenMalicious: make(map[string]bool),
		log:           logging.With().Str("component", "admission").Logger(),
	}
	trustStore.SetAutoBanFunc(func(identity, reason string) {
		c.Block(identity, "auto: "+reason)
	})
	return c
}

// Check runs the full admission pipeline for one request. Order
// matters: a blocked identity never consumes rate budget, and a
// rate-limited identity never reaches locator parsing.
//
// A panic inside a check stage is mapped to the configured failure
// policy instead of crashing the caller.
func (c *Controller) Check(identity, locator string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("identity", identity).Interface("panic", r).
				Msg("admission check failed internally")
			metrics.AdmissionDenials.WithLabelValues(string(DenyInternal)).Inc()
			if c.cfg.FailOpen {
				v = Verdict{Allowed: true, TrustLevel: c.trust.LevelFor(identity)}
				return
			}
			v = Verdict{Allowed: false, Reason: DenyInternal}
		}
	}()

	if c.IsBlocked(identity) {
		metrics.AdmissionDenials.WithLabelValues(string(DenyBlocked)).Inc()
		return Verdict{Reason: DenyBlocked}
	}

	if !c.rates.AllowAndRecord(identity, c.cfg.RateLimitPerIdentity, c.cfg.RateLimitGlobal) {
		reason := DenyRateIdentity
		if c.rates.Count(identity) < c.cfg.RateLimitPerIdentity {
			reason = DenyRateGlobal
		}
		// Only the identity's own excess is a trust violation. A global
		// squeeze penalizing bystanders would auto-ban them wholesale.
		if reason == DenyRateIdentity {
			c.trust.RecordViolation(identity, "rate limit exceeded")
		}
		metrics.AdmissionDenials.WithLabelValues(string(reason)).Inc()
		c.log.Debug().Str("identity", identity).Str("reason", string(reason)).
			Msg("request rate limited")
		return Verdict{
			Reason:     reason,
			TrustLevel: c.trust.LevelFor(identity),
			RetryAfter: c.rates.RetryAfter(identity),
		}
	}

	score := c.trust.Score(identity)
	if score < c.cfg.Trust.DenyBelowScore {
		metrics.AdmissionDenials.WithLabelValues(string(DenyTrust)).Inc()
		return Verdict{Reason: DenyTrust, TrustLevel: c.trust.LevelFor(identity)}
	}

	if ContainsMaliciousPattern(locator) {
		c.mu.Lock()
		repeat := c.seenMalicious[identity]
		c.seenMalicious[identity] = true
		c.mu.Unlock()
		if repeat {
			c.trust.RecordViolation(identity, "malicious input")
		}
		metrics.AdmissionDenials.WithLabelValues(string(DenyMalicious)).Inc()
		c.log.Warn().Str("identity", identity).Bool("repeat", repeat).
			Msg("malicious pattern in locator")
		return Verdict{Reason: DenyMalicious, TrustLevel: c.trust.LevelFor(identity)}
	}

	mediaID, err := ValidateLocator(locator, c.cfg.MaxLocatorLength)
	if err != nil {
		c.trust.RecordViolation(identity, fmt.Sprintf("invalid locator: %v", err))
		metrics.AdmissionDenials.WithLabelValues(string(DenyInvalidLocator)).Inc()
		return Verdict{Reason: DenyInvalidLocator, TrustLevel: c.trust.LevelFor(identity)}
	}

	return Verdict{
		Allowed:    true,
		MediaID:    mediaID,
		TrustLevel: c.trust.LevelFor(identity),
	}
}

// Block adds an identity to the block set.
func (c *Controller) Block(identity, reason string) {
	c.mu.Lock()
	c.blocked[identity] = blockEntry{Reason: reason, BlockedAt: time.Now()}
	c.mu.Unlock()

	metrics.BlockedIdentities.Inc()
	c.log.Info().Str("identity", identity).Str("reason", reason).Msg("identity blocked")
}

// Unblock removes an identity from the block set and resets its trust
// score to the configured unblock value. Returns false if the
// identity was not blocked.
func (c *Controller) Unblock(identity string) bool {
	c.mu.Lock()
	_, existed := c.blocked[identity]
	delete(c.blocked, identity)
	c.mu.Unlock()

	if !existed {
		return false
	}

	c.trust.ResetScore(identity, c.cfg.Trust.UnblockScore)
	metrics.BlockedIdentities.Dec()
	c.log.Info().Str("identity", identity).Msg("identity unblocked")
	return true
}

// IsBlocked reports whether an identity is in the block set.
func (c *Controller) IsBlocked(identity string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, blocked := c.blocked[identity]
	return blocked
}

// BlockedCount returns the size of the block set.
func (c *Controller) BlockedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocked)
}

// MetricsSnapshot aggregates admission state for the ops surface.
type MetricsSnapshot struct {
	BlockedIdentities int           `json:"blocked_identities"`
	TrackedWindows    int           `json:"tracked_windows"`
	GlobalWindowUsed  int           `json:"global_window_used"`
	Trust             trust.Metrics `json:"trust"`
}

// Snapshot returns the current admission metrics.
func (c *Controller) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BlockedIdentities: c.BlockedCount(),
		TrackedWindows:    c.rates.Len(),
		GlobalWindowUsed:  c.rates.GlobalCount(),
		Trust:             c.trust.MetricsSnapshot(),
	}
}

// CleanupWindows drops rate windows with no recent activity. Called by
// the periodic maintenance sweep.
func (c *Controller) CleanupWindows() int {
	return c.rates.CleanupInactive()
}
