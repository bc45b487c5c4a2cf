// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package quota enforces per-identity download budgets and premium
// entitlements.
//
// Free identities get a fixed number of downloads per period, then a
// cooldown before the next batch. Premium identities bypass the
// budget entirely but still carry a quality ceiling. Usage is only
// committed after a successful delivery; evaluating an entitlement
// never consumes it.
//
// All mutations for one identity are serialized through a per-identity
// lock, so an identity hammering the service from several chats cannot
// double-spend its remaining budget.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/cache"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/store"
)

// DenialReason identifies why an entitlement was denied.
type DenialReason string

// Entitlement denial reasons.
const (
	DenyCooldown  DenialReason = "cooldown"
	DenyExhausted DenialReason = "quota_exhausted"
)

// Decision is the outcome of an entitlement evaluation. Evaluation is
// a pure read; nothing is consumed until Commit.
type Decision struct {
	CanDownload bool         `json:"can_download"`
	Reason      DenialReason `json:"reason,omitempty"`

	// Remaining is the unspent budget this period. -1 means
	// unlimited (premium).
	Remaining int `json:"remaining"`

	Premium       bool      `json:"premium"`
	VideoCeiling  Tier      `json:"video_ceiling"`
	AudioCeiling  Tier      `json:"audio_ceiling"`
	PeriodReset   time.Time `json:"period_reset,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Ledger tracks quota state. Durable state lives in the store; a
// TTL'd LRU in front of it absorbs the read load of repeated
// evaluations.
type Ledger struct {
	cfg   config.QuotaConfig
	store *store.Store
	cache *cache.LRU[*store.IdentityRecord]

	// locks serializes mutations per identity.
	locks sync.Map // identity -> *sync.Mutex

	log zerolog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewLedger creates a quota ledger backed by the given store.
func NewLedger(cfg config.QuotaConfig, st *store.Store) *Ledger {
	return &Ledger{
		cfg:   cfg,
		store: st,
		cache: cache.NewLRU[*store.IdentityRecord](cfg.CacheSize, cfg.CacheTTL),
		log:   logging.With().Str("component", "quota").Logger(),
		now:   time.Now,
	}
}

// SetClock replaces the ledger's time source. Test use only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// lockFor returns the mutex serializing one identity's mutations.
func (l *Ledger) lockFor(identity string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(identity, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// loadLocked fetches the identity record, creating a fresh one for
// unknown identities. Lazy maintenance happens here: an elapsed
// period resets the counter and an expired premium grant is demoted.
// Must be called with the identity lock held.
func (l *Ledger) loadLocked(identity string) (*store.IdentityRecord, error) {
	now := l.now()

	rec, ok := l.cache.Get(identity)
	if !ok {
		var err error
		rec, err = l.store.GetIdentity(identity)
		if errors.Is(err, store.ErrNotFound) {
			rec = &store.IdentityRecord{ID: identity, CreatedAt: now}
		} else if err != nil {
			return nil, fmt.Errorf("load identity %s: %w", identity, err)
		}
	}

	dirty := false

	if rec.Premium && !rec.PremiumExpiry.IsZero() && now.After(rec.PremiumExpiry) {
		rec.Premium = false
		rec.PremiumExpiry = time.Time{}
		dirty = true
		l.log.Info().Str("identity", identity).Msg("premium grant expired")
	}

	if !rec.PeriodReset.IsZero() && now.After(rec.PeriodReset) {
		rec.DownloadsUsed = 0
		rec.PeriodReset = time.Time{}
		rec.CooldownUntil = time.Time{}
		dirty = true
	}

	if dirty {
		if err := l.store.PutIdentity(rec); err != nil {
			return nil, err
		}
	}
	l.cache.Add(identity, rec)
	return rec, nil
}

// Evaluate resolves the current entitlement for an identity without
// consuming anything. Calling it repeatedly yields the same decision
// until a Commit or an administrative change intervenes.
func (l *Ledger) Evaluate(identity string) (Decision, error) {
	mu := l.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.loadLocked(identity)
	if err != nil {
		return Decision{}, err
	}

	return l.decide(rec), nil
}

// decide derives a Decision from a maintained record.
func (l *Ledger) decide(rec *store.IdentityRecord) Decision {
	video, audio := Ceilings(rec.Premium)
	d := Decision{
		Premium:      rec.Premium,
		VideoCeiling: video,
		AudioCeiling: audio,
		PeriodReset:  rec.PeriodReset,
	}

	if rec.Premium {
		d.CanDownload = true
		d.Remaining = -1
		return d
	}

	now := l.now()

	if !rec.CooldownUntil.IsZero() && now.Before(rec.CooldownUntil) {
		d.Reason = DenyCooldown
		d.CooldownUntil = rec.CooldownUntil
		metrics.QuotaDenials.WithLabelValues(string(DenyCooldown)).Inc()
		return d
	}

	remaining := l.cfg.FreeLimit - rec.DownloadsUsed
	if remaining <= 0 {
		d.Reason = DenyExhausted
		d.CooldownUntil = rec.CooldownUntil
		metrics.QuotaDenials.WithLabelValues(string(DenyExhausted)).Inc()
		return d
	}

	d.CanDownload = true
	d.Remaining = remaining
	return d
}

// Commit consumes one download from the identity's budget. Called
// only after a successful delivery. Reaching the free limit starts
// the cooldown and schedules the period reset.
func (l *Ledger) Commit(identity string) error {
	mu := l.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.loadLocked(identity)
	if err != nil {
		return err
	}

	now := l.now()
	rec.LastSeen = now

	if rec.Premium {
		l.cache.Add(identity, rec)
		metrics.QuotaCommits.WithLabelValues("premium").Inc()
		return l.store.PutIdentity(rec)
	}

	rec.DownloadsUsed++
	if rec.PeriodReset.IsZero() {
		rec.PeriodReset = now.Add(l.cfg.Period)
	}
	if rec.DownloadsUsed >= l.cfg.FreeLimit {
		rec.CooldownUntil = now.Add(l.cfg.Cooldown)
		l.log.Info().Str("identity", identity).
			Time("cooldown_until", rec.CooldownUntil).
			Msg("free quota exhausted, cooldown started")
	}

	l.cache.Add(identity, rec)
	metrics.QuotaCommits.WithLabelValues("free").Inc()
	return l.store.PutIdentity(rec)
}

// GrantPremium grants premium entitlement until the given expiry. A
// zero expiry grants indefinitely.
func (l *Ledger) GrantPremium(identity string, expiry time.Time) error {
	mu := l.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.loadLocked(identity)
	if err != nil {
		return err
	}

	rec.Premium = true
	rec.PremiumExpiry = expiry
	rec.CooldownUntil = time.Time{}

	l.cache.Add(identity, rec)
	l.log.Info().Str("identity", identity).Time("expiry", expiry).Msg("premium granted")
	return l.store.PutIdentity(rec)
}

// RevokePremium removes premium entitlement immediately.
func (l *Ledger) RevokePremium(identity string) error {
	mu := l.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.loadLocked(identity)
	if err != nil {
		return err
	}

	rec.Premium = false
	rec.PremiumExpiry = time.Time{}

	l.cache.Add(identity, rec)
	l.log.Info().Str("identity", identity).Msg("premium revoked")
	return l.store.PutIdentity(rec)
}

// Inspect returns the raw identity record after lazy maintenance.
// Used by the ops surface.
func (l *Ledger) Inspect(identity string) (*store.IdentityRecord, error) {
	mu := l.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()
	return l.loadLocked(identity)
}

// CleanupCache evicts expired entries from the entitlement cache.
// Called by the periodic maintenance sweep.
func (l *Ledger) CleanupCache() int {
	return l.cache.CleanupExpired()
}
