// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package trust

import (
	"testing"
	"time"

	"github.com/clipstream/clipstream/internal/config"
)

func testTrustConfig() config.TrustConfig {
	return config.TrustConfig{
		InitialScore:      100,
		ViolationPenalty:  15,
		RecoveryPerDay:    2,
		AutoBanViolations: 10,
		AutoBanScore:      20,
		DenyBelowScore:    20,
		UnblockScore:      75,
	}
}

func TestUnknownIdentityCarriesInitialScore(t *testing.T) {
	s := NewStore(testTrustConfig())

	if got := s.Score("stranger"); got != 100 {
		t.Errorf("Score = %v, want 100", got)
	}
	if got := s.LevelFor("stranger"); got != LevelLow {
		t.Errorf("Level = %v, want low", got)
	}
}

func TestViolationPenalty(t *testing.T) {
	s := NewStore(testTrustConfig())

	score := s.RecordViolation("user1", "malicious input")
	if score != 85 {
		t.Errorf("score after one violation = %v, want 85", score)
	}

	score = s.RecordViolation("user1", "rate abuse")
	if score != 70 {
		t.Errorf("score after two violations = %v, want 70", score)
	}
	if got := s.Violations("user1"); got != 2 {
		t.Errorf("Violations = %d, want 2", got)
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	s := NewStore(testTrustConfig())

	var score float64
	for i := 0; i < 20; i++ {
		score = s.RecordViolation("user1", "spam")
	}
	if score != 0 {
		t.Errorf("score = %v, want floor 0", score)
	}
}

func TestDailyRecovery(t *testing.T) {
	s := NewStore(testTrustConfig())

	base := time.Now()
	now := base
	s.SetClock(func() time.Time { return now })

	s.RecordViolation("user1", "spam")
	s.RecordViolation("user1", "spam") // score 70

	// Three full days later: +2 per day
	now = base.Add(72 * time.Hour)
	if got := s.Score("user1"); got != 76 {
		t.Errorf("Score after 3 days = %v, want 76", got)
	}

	// Partial days do not count
	now = base.Add(72*time.Hour + 12*time.Hour)
	if got := s.Score("user1"); got != 76 {
		t.Errorf("Score after 3.5 days = %v, want 76", got)
	}
}

func TestRecoveryCapsAtInitialScore(t *testing.T) {
	s := NewStore(testTrustConfig())

	base := time.Now()
	now := base
	s.SetClock(func() time.Time { return now })

	s.RecordViolation("user1", "spam") // score 85

	now = base.Add(365 * 24 * time.Hour)
	if got := s.Score("user1"); got != 100 {
		t.Errorf("Score after a year = %v, want cap 100", got)
	}
}

func TestRecoveryIsPureRead(t *testing.T) {
	s := NewStore(testTrustConfig())

	base := time.Now()
	now := base
	s.SetClock(func() time.Time { return now })

	s.RecordViolation("user1", "spam")

	now = base.Add(48 * time.Hour)
	first := s.Score("user1")
	second := s.Score("user1")
	if first != second {
		t.Errorf("repeated reads diverged: %v then %v", first, second)
	}
}

func TestViolationFoldsAccruedRecovery(t *testing.T) {
	s := NewStore(testTrustConfig())

	base := time.Now()
	now := base
	s.SetClock(func() time.Time { return now })

	s.RecordViolation("user1", "spam") // 85

	// Two days of recovery bring the effective score to 89; a fresh
	// violation applies its penalty to that recovered value.
	now = base.Add(48 * time.Hour)
	score := s.RecordViolation("user1", "spam")
	if score != 74 {
		t.Errorf("score = %v, want 74 (89 - 15)", score)
	}
}

func TestAutoBanOnViolationCount(t *testing.T) {
	s := NewStore(testTrustConfig())

	var banned []string
	s.SetAutoBanFunc(func(identity, reason string) {
		banned = append(banned, identity)
	})

	base := time.Now()
	now := base
	s.SetClock(func() time.Time { return now })

	// Keep the score above the score threshold by spacing violations
	// out; the count threshold alone must trigger the ban.
	for i := 0; i < 10; i++ {
		s.RecordViolation("user1", "spam")
		now = now.Add(8 * 24 * time.Hour)
	}

	if len(banned) == 0 {
		t.Fatal("auto-ban callback never fired")
	}
	if banned[0] != "user1" {
		t.Errorf("banned identity = %q, want user1", banned[0])
	}
}

func TestAutoBanOnLowScore(t *testing.T) {
	s := NewStore(testTrustConfig())

	var banned bool
	s.SetAutoBanFunc(func(identity, reason string) { banned = true })

	// Six violations bring the score to 10, at or below threshold 20
	for i := 0; i < 6; i++ {
		s.RecordViolation("user1", "spam")
	}

	if !banned {
		t.Error("auto-ban callback should fire once score <= threshold")
	}
}

func TestLevelBands(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{100, LevelLow},
		{80, LevelLow},
		{79.9, LevelMedium},
		{50, LevelMedium},
		{49.9, LevelHigh},
		{20, LevelHigh},
		{19.9, LevelCritical},
		{0, LevelCritical},
	}

	for _, tt := range tests {
		if got := levelForScore(tt.score); got != tt.want {
			t.Errorf("levelForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestResetScore(t *testing.T) {
	s := NewStore(testTrustConfig())

	for i := 0; i < 6; i++ {
		s.RecordViolation("user1", "spam")
	}

	s.ResetScore("user1", 75)
	if got := s.Score("user1"); got != 75 {
		t.Errorf("Score after reset = %v, want 75", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	s := NewStore(testTrustConfig())

	s.RecordViolation("a", "spam")
	s.RecordViolation("b", "spam")
	s.RecordViolation("b", "spam")
	for i := 0; i < 7; i++ {
		s.RecordViolation("c", "spam") // score 0, critical
	}

	m := s.MetricsSnapshot()
	if m.TrackedIdentities != 3 {
		t.Errorf("TrackedIdentities = %d, want 3", m.TrackedIdentities)
	}
	if m.TotalViolations != 10 {
		t.Errorf("TotalViolations = %d, want 10", m.TotalViolations)
	}
	if m.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", m.CriticalCount)
	}
}

func TestWorstOffendersOrdering(t *testing.T) {
	s := NewStore(testTrustConfig())

	s.RecordViolation("mild", "spam")
	for i := 0; i < 4; i++ {
		s.RecordViolation("bad", "spam")
	}

	worst := s.WorstOffenders(10)
	if len(worst) != 2 {
		t.Fatalf("len = %d, want 2", len(worst))
	}
	if worst[0].Identity != "bad" {
		t.Errorf("worst[0] = %q, want bad", worst[0].Identity)
	}
}
