// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package cache

import (
	"sync"
	"time"
)

// RateWindow tracks event timestamps inside a sliding window for one
// key. Unlike a bucketed counter, it keeps exact timestamps so a
// limit check is precise at window boundaries.
type RateWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// newRateWindow creates a window of the given duration.
func newRateWindow(window time.Duration) *RateWindow {
	return &RateWindow{
		timestamps: make([]time.Time, 0, 8),
		window:     window,
	}
}

// prune drops timestamps older than the window, relative to now.
func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// record appends a timestamp. Retention is bounded by the limit
// enforced against this window; trimming below it would make the
// limit check blind to its own history.
func (w *RateWindow) record(now time.Time, limit int) {
	w.timestamps = append(w.timestamps, now)
	if len(w.timestamps) > limit {
		w.timestamps = w.timestamps[len(w.timestamps)-limit:]
	}
}

// RateWindowStore manages sliding rate windows by key plus one global
// window spanning all keys. AllowAndRecord performs the dual-scope
// check the admission layer needs in a single lock acquisition.
type RateWindowStore struct {
	mu      sync.Mutex
	windows map[string]*RateWindow
	global  *RateWindow
	window  time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateWindowStore creates a store whose windows all share the given
// duration.
func NewRateWindowStore(window time.Duration) *RateWindowStore {
	return &RateWindowStore{
		windows: make(map[string]*RateWindow),
		global:  newRateWindow(window),
		window:  window,
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Test use only.
func (s *RateWindowStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AllowAndRecord checks the key's window against keyLimit and the
// global window against globalLimit. When both have headroom the event
// is recorded in both windows and true is returned. A denied event is
// NOT recorded, so a throttled caller does not extend its own
// throttling.
func (s *RateWindowStore) AllowAndRecord(key string, keyLimit, globalLimit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, exists := s.windows[key]
	if !exists {
		w = newRateWindow(s.window)
		s.windows[key] = w
	}

	w.prune(now)
	s.global.prune(now)

	if len(w.timestamps) >= keyLimit {
		return false
	}
	if len(s.global.timestamps) >= globalLimit {
		return false
	}

	w.record(now, keyLimit)
	s.global.record(now, globalLimit)
	return true
}

// RetryAfter returns how long until the key's oldest recorded event
// leaves the window, freeing one slot. Zero when the window has
// headroom already.
func (s *RateWindowStore) RetryAfter(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists {
		return 0
	}
	now := s.now()
	w.prune(now)
	if len(w.timestamps) == 0 {
		return 0
	}
	return w.timestamps[0].Add(w.window).Sub(now)
}

// Count returns the number of events in the key's window.
func (s *RateWindowStore) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists {
		return 0
	}
	w.prune(s.now())
	return len(w.timestamps)
}

// GlobalCount returns the number of events in the global window.
func (s *RateWindowStore) GlobalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global.prune(s.now())
	return len(s.global.timestamps)
}

// Remove discards the window for a key.
func (s *RateWindowStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Len returns the number of tracked keys.
func (s *RateWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// CleanupInactive drops windows with no events left in them.
// Returns the number of windows removed.
func (s *RateWindowStore) CleanupInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		w.prune(now)
		if len(w.timestamps) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}
