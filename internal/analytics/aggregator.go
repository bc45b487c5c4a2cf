// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package analytics aggregates usage events in memory: a bounded ring
// of recent events, per-type counters, per-identity journeys, and
// inactivity-bounded sessions. Everything here is best-effort
// operational insight; losing it on restart is acceptable, so nothing
// is persisted.
package analytics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
)

// EventType classifies an analytics event.
type EventType string

// Event types recorded by the service.
const (
	EventRequest   EventType = "request"
	EventDelivered EventType = "delivered"
	EventDenied    EventType = "denied"
	EventFailed    EventType = "failed"
	EventAdminOp   EventType = "admin_op"
	EventBroadcast EventType = "broadcast"
)

// Event is one recorded usage event.
type Event struct {
	ID       string    `json:"id"`
	Identity string    `json:"identity"`
	Type     EventType `json:"type"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// session tracks one identity's activity burst.
type session struct {
	start        time.Time
	lastActivity time.Time
	events       int
}

// Summary is a windowed aggregate view.
type Summary struct {
	Window           time.Duration     `json:"window"`
	TotalEvents      int               `json:"total_events"`
	EventsByType     map[EventType]int `json:"events_by_type"`
	UniqueIdentities int               `json:"unique_identities"`
	ActiveSessions   int               `json:"active_sessions"`
}

// DurationPercentiles summarizes retained download duration samples.
type DurationPercentiles struct {
	Samples int           `json:"samples"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// Aggregator collects events. Safe for concurrent use.
type Aggregator struct {
	cfg config.AnalyticsConfig
	log zerolog.Logger

	mu sync.RWMutex

	// ring is a fixed-capacity event buffer; next is the write
	// cursor and full marks wraparound.
	ring []Event
	next int
	full bool

	countsByType map[EventType]int64
	journeys     map[string][]Event
	sessions     map[string]*session

	// sessionDurations retains closed-session lengths for stats.
	sessionDurations []time.Duration

	// downloadDurations retains job duration samples for percentiles.
	downloadDurations []time.Duration

	downloadsByIdentity map[string]int

	// now is replaceable in tests.
	now func() time.Time
}

// maxDurationSamples bounds the retained percentile samples.
const maxDurationSamples = 10000

// NewAggregator creates an event aggregator.
func NewAggregator(cfg config.AnalyticsConfig) *Aggregator {
	return &Aggregator{
		cfg:                 cfg,
		log:                 logging.With().Str("component", "analytics").Logger(),
		ring:                make([]Event, cfg.MaxEvents),
		countsByType:        make(map[EventType]int64),
		journeys:            make(map[string][]Event),
		sessions:            make(map[string]*session),
		downloadsByIdentity: make(map[string]int),
		now:                 time.Now,
	}
}

// SetClock replaces the aggregator's time source. Test use only.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Record stores one event. The ring buffer drops the oldest event
// once capacity is reached; counters and journeys are updated
// regardless.
func (a *Aggregator) Record(identity string, typ EventType, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	ev := Event{
		ID:       uuid.NewString(),
		Identity: identity,
		Type:     typ,
		Detail:   detail,
		At:       now,
	}

	a.ring[a.next] = ev
	a.next++
	if a.next == len(a.ring) {
		a.next = 0
		a.full = true
	}

	a.countsByType[typ]++
	metrics.EventsRecorded.WithLabelValues(string(typ)).Inc()

	journey := append(a.journeys[identity], ev)
	if len(journey) > a.cfg.JourneyLength {
		journey = journey[len(journey)-a.cfg.JourneyLength:]
	}
	a.journeys[identity] = journey

	if typ == EventDelivered {
		a.downloadsByIdentity[identity]++
	}

	s, ok := a.sessions[identity]
	if !ok || now.Sub(s.lastActivity) > a.cfg.SessionTimeout {
		if ok {
			a.closeSessionLocked(identity, s)
		}
		a.sessions[identity] = &session{start: now, lastActivity: now, events: 1}
		metrics.SessionsActive.Inc()
		return
	}
	s.lastActivity = now
	s.events++
}

// RecordDownloadDuration retains one job duration sample.
func (a *Aggregator) RecordDownloadDuration(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.downloadDurations = append(a.downloadDurations, d)
	if len(a.downloadDurations) > maxDurationSamples {
		a.downloadDurations = a.downloadDurations[len(a.downloadDurations)-maxDurationSamples:]
	}
}

// closeSessionLocked finalizes a session. Must be called with the
// lock held; the caller removes or replaces the map entry.
func (a *Aggregator) closeSessionLocked(identity string, s *session) {
	a.sessionDurations = append(a.sessionDurations, s.lastActivity.Sub(s.start))
	if len(a.sessionDurations) > maxDurationSamples {
		a.sessionDurations = a.sessionDurations[len(a.sessionDurations)-maxDurationSamples:]
	}
	metrics.SessionsActive.Dec()
}

// Journey returns the retained event trail for an identity, oldest
// first.
func (a *Aggregator) Journey(identity string) []Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	journey := a.journeys[identity]
	out := make([]Event, len(journey))
	copy(out, journey)
	return out
}

// Summarize aggregates events recorded within the trailing window.
func (a *Aggregator) Summarize(window time.Duration) Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cutoff := a.now().Add(-window)
	sum := Summary{
		Window:       window,
		EventsByType: make(map[EventType]int),
	}
	identities := make(map[string]struct{})

	a.eachEventLocked(func(ev Event) {
		if ev.At.Before(cutoff) {
			return
		}
		sum.TotalEvents++
		sum.EventsByType[ev.Type]++
		identities[ev.Identity] = struct{}{}
	})

	sum.UniqueIdentities = len(identities)
	sum.ActiveSessions = len(a.sessions)
	return sum
}

// eachEventLocked visits every retained event. Must be called with at
// least the read lock held.
func (a *Aggregator) eachEventLocked(fn func(Event)) {
	if a.full {
		for i := a.next; i < len(a.ring); i++ {
			fn(a.ring[i])
		}
	}
	for i := 0; i < a.next; i++ {
		fn(a.ring[i])
	}
}

// EngagementScore computes a 0-100 engagement score for an identity.
// Four capped sub-terms (volume, variety, frequency, downloads) sum
// to the raw score, then a recency decay halves it per week of
// inactivity.
func (a *Aggregator) EngagementScore(identity string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	journey := a.journeys[identity]
	if len(journey) == 0 {
		return 0
	}

	e := a.cfg.Engagement

	volume := math.Min(float64(len(journey))*e.EventWeight, e.EventCap)

	types := make(map[EventType]struct{})
	for _, ev := range journey {
		types[ev.Type] = struct{}{}
	}
	variety := math.Min(float64(len(types))*e.VarietyWeight, e.VarietyCap)

	// Frequency: events per active day across the journey span.
	span := journey[len(journey)-1].At.Sub(journey[0].At)
	days := math.Max(span.Hours()/24, 1)
	frequency := math.Min(float64(len(journey))/days*10, e.FrequencyCap)

	downloads := math.Min(float64(a.downloadsByIdentity[identity])*e.DownloadWeight, e.DownloadCap)

	score := volume + variety + frequency + downloads

	// Halve per week since the last event.
	idle := a.now().Sub(journey[len(journey)-1].At)
	if idle > 0 {
		weeks := idle.Hours() / (24 * 7)
		score *= math.Pow(0.5, weeks)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Percentiles summarizes retained download duration samples.
func (a *Aggregator) Percentiles() DurationPercentiles {
	a.mu.RLock()
	samples := make([]time.Duration, len(a.downloadDurations))
	copy(samples, a.downloadDurations)
	a.mu.RUnlock()

	if len(samples) == 0 {
		return DurationPercentiles{}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return DurationPercentiles{
		Samples: len(samples),
		P50:     percentile(samples, 0.50),
		P95:     percentile(samples, 0.95),
		P99:     percentile(samples, 0.99),
	}
}

// percentile picks the nearest-rank percentile from sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Sweep closes sessions idle past the timeout and drops journeys
// whose newest event is older than the retention horizon. Running it
// twice back to back is a no-op the second time.
func (a *Aggregator) Sweep() (closedSessions, droppedJourneys int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	for identity, s := range a.sessions {
		if now.Sub(s.lastActivity) > a.cfg.SessionTimeout {
			a.closeSessionLocked(identity, s)
			delete(a.sessions, identity)
			closedSessions++
		}
	}

	horizon := now.Add(-a.cfg.Retention)
	for identity, journey := range a.journeys {
		if len(journey) == 0 || journey[len(journey)-1].At.Before(horizon) {
			delete(a.journeys, identity)
			delete(a.downloadsByIdentity, identity)
			droppedJourneys++
		}
	}

	if closedSessions > 0 || droppedJourneys > 0 {
		a.log.Debug().Int("closed_sessions", closedSessions).
			Int("dropped_journeys", droppedJourneys).Msg("analytics sweep")
	}
	return closedSessions, droppedJourneys
}

// TotalsByType returns lifetime event counts by type.
func (a *Aggregator) TotalsByType() map[EventType]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[EventType]int64, len(a.countsByType))
	for k, v := range a.countsByType {
		out[k] = v
	}
	return out
}
