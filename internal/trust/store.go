// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package trust maintains the per-identity violation ledger and trust
// score. Scores start at the configured initial value, drop by a
// fixed penalty per recorded violation, and recover over time: each
// full day since the last violation credits the recovery rate back,
// up to the initial score.
//
// Recovery is a derived read. No background task mutates scores; the
// effective score is computed from the stored base score and the time
// of the last violation at query time.
package trust

import (
	"sort"
	"sync"
	"time"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/metrics"
)

// Level bands an effective trust score for reporting.
type Level string

// Trust levels, from least to most concerning.
const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// record holds the mutable per-identity ledger state.
type record struct {
	violations    int
	baseScore     float64
	lastViolation time.Time
	reasons       []string
}

// Snapshot is a read-only view of one identity's ledger state.
type Snapshot struct {
	Identity       string    `json:"identity"`
	Violations     int       `json:"violations"`
	EffectiveScore float64   `json:"effective_score"`
	Level          Level     `json:"level"`
	LastViolation  time.Time `json:"last_violation,omitempty"`
	Reasons        []string  `json:"reasons,omitempty"`
}

// Metrics is an aggregate view across the whole ledger.
type Metrics struct {
	TrackedIdentities int     `json:"tracked_identities"`
	TotalViolations   int     `json:"total_violations"`
	AverageScore      float64 `json:"average_score"`
	CriticalCount     int     `json:"critical_count"`
}

// AutoBanFunc is invoked when an identity crosses an auto-ban
// threshold. It runs outside the store's lock.
type AutoBanFunc func(identity, reason string)

// Store is the trust ledger. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	cfg     config.TrustConfig

	onAutoBan AutoBanFunc

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a trust ledger with the given tuning.
func NewStore(cfg config.TrustConfig) *Store {
	return &Store{
		records: make(map[string]*record),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetAutoBanFunc registers the callback fired when an identity crosses
// an auto-ban threshold. Must be called before concurrent use.
func (s *Store) SetAutoBanFunc(fn AutoBanFunc) {
	s.onAutoBan = fn
}

// SetClock replaces the store's time source. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RecordViolation subtracts the penalty from the identity's score and
// appends the reason to its ledger. When the identity reaches the
// violation-count or score threshold the auto-ban callback fires.
// Returns the effective score after the violation.
func (s *Store) RecordViolation(identity, reason string) float64 {
	s.mu.Lock()

	r, exists := s.records[identity]
	if !exists {
		r = &record{baseScore: s.cfg.InitialScore}
		s.records[identity] = r
	}

	now := s.now()

	// Fold accrued recovery into the base before applying the penalty,
	// otherwise the recovery credit would survive the new violation.
	r.baseScore = s.effectiveScoreLocked(r, now)

	r.violations++
	r.baseScore -= s.cfg.ViolationPenalty
	if r.baseScore < 0 {
		r.baseScore = 0
	}
	r.lastViolation = now
	r.reasons = append(r.reasons, reason)
	metrics.TrustViolations.Inc()

	score := r.baseScore
	ban := r.violations >= s.cfg.AutoBanViolations || score <= s.cfg.AutoBanScore

	s.mu.Unlock()

	if ban && s.onAutoBan != nil {
		s.onAutoBan(identity, reason)
	}

	return score
}

// Score returns the effective trust score for an identity. Unknown
// identities carry the initial score.
func (s *Store) Score(identity string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[identity]
	if !exists {
		return s.cfg.InitialScore
	}
	return s.effectiveScoreLocked(r, s.now())
}

// LevelFor returns the trust level band for an identity.
func (s *Store) LevelFor(identity string) Level {
	return levelForScore(s.Score(identity))
}

// levelForScore bands an effective score.
func levelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelLow
	case score >= 50:
		return LevelMedium
	case score >= 20:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Violations returns the violation count for an identity.
func (s *Store) Violations(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[identity]
	if !exists {
		return 0
	}
	return r.violations
}

// ResetScore sets an identity's base score to the given value and
// clears accrued recovery. Used when an operator unblocks an identity.
func (s *Store) ResetScore(identity string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[identity]
	if !exists {
		r = &record{}
		s.records[identity] = r
	}
	r.baseScore = score
	r.lastViolation = s.now()
}

// SnapshotFor returns a read-only view of an identity's ledger state.
func (s *Store) SnapshotFor(identity string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[identity]
	if !exists {
		return Snapshot{
			Identity:       identity,
			EffectiveScore: s.cfg.InitialScore,
			Level:          levelForScore(s.cfg.InitialScore),
		}
	}

	score := s.effectiveScoreLocked(r, s.now())
	reasons := make([]string, len(r.reasons))
	copy(reasons, r.reasons)

	return Snapshot{
		Identity:       identity,
		Violations:     r.violations,
		EffectiveScore: score,
		Level:          levelForScore(score),
		LastViolation:  r.lastViolation,
		Reasons:        reasons,
	}
}

// MetricsSnapshot aggregates ledger state for the ops surface.
func (s *Store) MetricsSnapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Metrics{TrackedIdentities: len(s.records)}
	if len(s.records) == 0 {
		return m
	}

	now := s.now()
	var sum float64
	for _, r := range s.records {
		score := s.effectiveScoreLocked(r, now)
		sum += score
		m.TotalViolations += r.violations
		if levelForScore(score) == LevelCritical {
			m.CriticalCount++
		}
	}
	m.AverageScore = sum / float64(len(s.records))
	return m
}

// WorstOffenders returns up to n identities ordered by ascending
// effective score.
func (s *Store) WorstOffenders(n int) []Snapshot {
	s.mu.RLock()

	now := s.now()
	all := make([]Snapshot, 0, len(s.records))
	for identity, r := range s.records {
		score := s.effectiveScoreLocked(r, now)
		all = append(all, Snapshot{
			Identity:       identity,
			Violations:     r.violations,
			EffectiveScore: score,
			Level:          levelForScore(score),
			LastViolation:  r.lastViolation,
		})
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].EffectiveScore < all[j].EffectiveScore
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// effectiveScoreLocked computes base score plus accrued daily
// recovery, bounded to [0, InitialScore]. Must be called with the
// lock held.
func (s *Store) effectiveScoreLocked(r *record, now time.Time) float64 {
	score := r.baseScore
	if !r.lastViolation.IsZero() {
		days := now.Sub(r.lastViolation).Hours() / 24
		if days > 0 {
			score += float64(int(days)) * s.cfg.RecoveryPerDay
		}
	}
	if score > s.cfg.InitialScore {
		score = s.cfg.InitialScore
	}
	if score < 0 {
		score = 0
	}
	return score
}
