// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUAddGet(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch "a" so it becomes most recently used
	c.Get("a")

	// Adding a fourth entry evicts the LRU entry, which is now "b"
	c.Add("d", 4)

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be present")
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	base := time.Now()
	now := base
	c.SetClock(func() time.Time { return now })

	c.Add("k", "v")

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should be present before expiry")
	}

	now = base.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on access, Len() = %d", c.Len())
	}
}

func TestLRUUpdateRefreshesEntry(t *testing.T) {
	c := NewLRU[int](2, time.Minute)

	c.Add("a", 1)
	c.Add("a", 2)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) = %d, want 2", v)
	}
}

func TestLRUCleanupExpired(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	base := time.Now()
	now := base
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("old%d", i), i)
	}

	now = base.Add(30 * time.Second)
	c.Add("fresh", 99)

	now = base.Add(90 * time.Second)

	removed := c.CleanupExpired()
	if removed != 5 {
		t.Errorf("CleanupExpired() = %d, want 5", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive cleanup")
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	c.Add("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("nope")

	hits, misses, size := c.Stats()
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[int](100, time.Minute)
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("key%d", i%50)
				c.Add(key, i)
				c.Get(key)
			}
		}(g)
	}

	for g := 0; g < 8; g++ {
		<-done
	}

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity 100", c.Len())
	}
}
