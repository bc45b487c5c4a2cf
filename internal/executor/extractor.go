// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
)

// ErrBreakerOpen is returned when the extraction circuit breaker is
// open and calls are being shed.
var ErrBreakerOpen = errors.New("extractor circuit breaker open")

// Metadata describes a media item as reported by a probe, before any
// bytes are fetched.
type Metadata struct {
	Title    string
	Duration time.Duration

	// EstimatedSize is the expected artifact size in bytes. Zero
	// means the extractor could not estimate.
	EstimatedSize int64
}

// FetchRequest asks the extractor to materialize a media item on disk.
type FetchRequest struct {
	MediaID string
	Quality string

	// DestPath is where the artifact must be written. The extractor
	// may substitute the extension for audio formats; the executor
	// accounts for that during cleanup.
	DestPath string

	// MaxBytes aborts the fetch when the artifact would exceed it.
	MaxBytes int64
}

// Extractor probes and fetches media. Implementations wrap an
// external extraction tool; both methods must honor context
// cancellation.
type Extractor interface {
	Probe(ctx context.Context, mediaID string) (*Metadata, error)
	Fetch(ctx context.Context, req FetchRequest) error
}

// BreakerExtractor wraps an Extractor with a circuit breaker. A run
// of extraction failures opens the breaker and sheds load off the
// upstream service until the open timeout passes.
type BreakerExtractor struct {
	inner   Extractor
	probeCB *gobreaker.CircuitBreaker[*Metadata]
	fetchCB *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerExtractor wraps inner with circuit breakers tuned by cfg.
func NewBreakerExtractor(inner Extractor, cfg config.BreakerConfig) *BreakerExtractor {
	log := logging.With().Str("component", "extractor").Logger()

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:    name,
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("extractor breaker state change")
			},
		}
	}

	return &BreakerExtractor{
		inner:   inner,
		probeCB: gobreaker.NewCircuitBreaker[*Metadata](settings("extractor-probe")),
		fetchCB: gobreaker.NewCircuitBreaker[struct{}](settings("extractor-fetch")),
	}
}

// Probe runs the inner probe through the breaker.
func (b *BreakerExtractor) Probe(ctx context.Context, mediaID string) (*Metadata, error) {
	md, err := b.probeCB.Execute(func() (*Metadata, error) {
		return b.inner.Probe(ctx, mediaID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return md, err
}

// Fetch runs the inner fetch through the breaker.
func (b *BreakerExtractor) Fetch(ctx context.Context, req FetchRequest) error {
	_, err := b.fetchCB.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Fetch(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return err
}
