// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/clipstream/clipstream/internal/config"
)

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		MaxEvents:      100,
		JourneyLength:  50,
		SessionTimeout: 30 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		Engagement: config.EngagementConfig{
			EventWeight:    2,
			EventCap:       40,
			VarietyWeight:  5,
			VarietyCap:     20,
			FrequencyCap:   20,
			DownloadWeight: 2,
			DownloadCap:    20,
		},
	}
}

func TestRecordAndTotals(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	a.Record("user1", EventRequest, "")
	a.Record("user1", EventDelivered, "")
	a.Record("user2", EventRequest, "")

	totals := a.TotalsByType()
	if totals[EventRequest] != 2 {
		t.Errorf("requests = %d, want 2", totals[EventRequest])
	}
	if totals[EventDelivered] != 1 {
		t.Errorf("delivered = %d, want 1", totals[EventDelivered])
	}
}

func TestRingBufferDropsOldest(t *testing.T) {
	cfg := testAnalyticsConfig()
	cfg.MaxEvents = 10
	a := NewAggregator(cfg)

	for i := 0; i < 25; i++ {
		a.Record("user1", EventRequest, fmt.Sprintf("ev%d", i))
	}

	sum := a.Summarize(time.Hour)
	if sum.TotalEvents != 10 {
		t.Errorf("retained events = %d, want ring capacity 10", sum.TotalEvents)
	}
}

func TestJourneyCapped(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	for i := 0; i < 80; i++ {
		a.Record("user1", EventRequest, fmt.Sprintf("ev%d", i))
	}

	journey := a.Journey("user1")
	if len(journey) != 50 {
		t.Fatalf("journey length = %d, want 50", len(journey))
	}
	// The newest events survive
	if journey[len(journey)-1].Detail != "ev79" {
		t.Errorf("newest journey entry = %q, want ev79", journey[len(journey)-1].Detail)
	}
	if journey[0].Detail != "ev30" {
		t.Errorf("oldest retained entry = %q, want ev30", journey[0].Detail)
	}
}

func TestSummarizeWindow(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	base := time.Now()
	now := base
	a.SetClock(func() time.Time { return now })

	a.Record("user1", EventRequest, "")
	now = base.Add(2 * time.Hour)
	a.Record("user2", EventDelivered, "")

	sum := a.Summarize(time.Hour)
	if sum.TotalEvents != 1 {
		t.Errorf("events in window = %d, want 1", sum.TotalEvents)
	}
	if sum.EventsByType[EventDelivered] != 1 {
		t.Errorf("delivered in window = %d, want 1", sum.EventsByType[EventDelivered])
	}
	if sum.UniqueIdentities != 1 {
		t.Errorf("unique identities = %d, want 1", sum.UniqueIdentities)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	base := time.Now()
	now := base
	a.SetClock(func() time.Time { return now })

	a.Record("user1", EventRequest, "")
	now = base.Add(10 * time.Minute)
	a.Record("user1", EventRequest, "")

	sum := a.Summarize(time.Hour)
	if sum.ActiveSessions != 1 {
		t.Fatalf("active sessions = %d, want 1", sum.ActiveSessions)
	}

	// Past the inactivity timeout the sweep closes the session
	now = base.Add(50 * time.Minute)
	closed, _ := a.Sweep()
	if closed != 1 {
		t.Errorf("closed sessions = %d, want 1", closed)
	}

	// A new event starts a fresh session
	a.Record("user1", EventRequest, "")
	if got := a.Summarize(time.Hour).ActiveSessions; got != 1 {
		t.Errorf("active sessions after new event = %d, want 1", got)
	}
}

func TestSweepIdempotent(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	base := time.Now()
	now := base
	a.SetClock(func() time.Time { return now })

	a.Record("user1", EventRequest, "")
	now = base.Add(time.Hour)

	closed1, _ := a.Sweep()
	closed2, _ := a.Sweep()
	if closed1 != 1 {
		t.Errorf("first sweep closed = %d, want 1", closed1)
	}
	if closed2 != 0 {
		t.Errorf("second sweep closed = %d, want 0", closed2)
	}
}

func TestSweepDropsStaleJourneys(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	base := time.Now()
	now := base
	a.SetClock(func() time.Time { return now })

	a.Record("stale", EventRequest, "")
	now = base.Add(31 * 24 * time.Hour)
	a.Record("fresh", EventRequest, "")

	_, dropped := a.Sweep()
	if dropped != 1 {
		t.Errorf("dropped journeys = %d, want 1", dropped)
	}
	if len(a.Journey("stale")) != 0 {
		t.Error("stale journey should be gone")
	}
	if len(a.Journey("fresh")) != 1 {
		t.Error("fresh journey should survive")
	}
}

func TestEngagementScoreBounds(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	if got := a.EngagementScore("nobody"); got != 0 {
		t.Errorf("score for unknown identity = %v, want 0", got)
	}

	// Saturate every sub-term
	for i := 0; i < 60; i++ {
		a.Record("heavy", EventRequest, "")
		a.Record("heavy", EventDelivered, "")
		a.Record("heavy", EventDenied, "")
		a.Record("heavy", EventFailed, "")
	}

	score := a.EngagementScore("heavy")
	if score < 0 || score > 100 {
		t.Errorf("score = %v, want within [0,100]", score)
	}
}

func TestEngagementScoreMonotonicInActivity(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	a.Record("light", EventRequest, "")

	for i := 0; i < 10; i++ {
		a.Record("busy", EventRequest, "")
		a.Record("busy", EventDelivered, "")
	}

	if a.EngagementScore("busy") <= a.EngagementScore("light") {
		t.Error("more activity should not lower the engagement score")
	}
}

func TestEngagementScoreDecaysWithIdleness(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	base := time.Now()
	now := base
	a.SetClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		a.Record("user1", EventRequest, "")
	}

	active := a.EngagementScore("user1")

	now = base.Add(3 * 7 * 24 * time.Hour)
	idle := a.EngagementScore("user1")

	if idle >= active {
		t.Errorf("idle score %v should be below active score %v", idle, active)
	}
	if idle < 0 {
		t.Errorf("idle score %v below 0", idle)
	}
}

func TestPercentiles(t *testing.T) {
	a := NewAggregator(testAnalyticsConfig())

	if p := a.Percentiles(); p.Samples != 0 {
		t.Errorf("empty percentiles samples = %d, want 0", p.Samples)
	}

	for i := 1; i <= 100; i++ {
		a.RecordDownloadDuration(time.Duration(i) * time.Second)
	}

	p := a.Percentiles()
	if p.Samples != 100 {
		t.Errorf("samples = %d, want 100", p.Samples)
	}
	if p.P50 != 50*time.Second {
		t.Errorf("p50 = %v, want 50s", p.P50)
	}
	if p.P95 != 95*time.Second {
		t.Errorf("p95 = %v, want 95s", p.P95)
	}
	if p.P99 != 99*time.Second {
		t.Errorf("p99 = %v, want 99s", p.P99)
	}
}
