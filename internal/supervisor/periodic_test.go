// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPeriodicServiceRunsAndStops(t *testing.T) {
	var runs int32
	svc := NewPeriodicService("test-sweep", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	if atomic.LoadInt32(&runs) == 0 {
		t.Error("periodic task never ran")
	}
}

func TestPeriodicServiceSurvivesTaskErrors(t *testing.T) {
	var runs int32
	svc := NewPeriodicService("flaky-sweep", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("task failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	svc.Serve(ctx)

	if atomic.LoadInt32(&runs) < 2 {
		t.Errorf("runs = %d, want the loop to continue past errors", atomic.LoadInt32(&runs))
	}
}

func TestPeriodicServiceString(t *testing.T) {
	svc := NewPeriodicService("named-sweep", time.Second, func(ctx context.Context) error { return nil })
	if svc.String() != "named-sweep" {
		t.Errorf("String() = %q", svc.String())
	}
}
