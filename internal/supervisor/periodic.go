// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/logging"
)

// PeriodicService runs a function on a fixed interval under
// supervision. An error from the function is logged and the loop
// continues; only context cancellation stops the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
	log      zerolog.Logger
}

// NewPeriodicService creates a supervised periodic task.
func NewPeriodicService(name string, interval time.Duration, run func(context.Context) error) *PeriodicService {
	return &PeriodicService{
		name:     name,
		interval: interval,
		run:      run,
		log:      logging.With().Str("component", name).Logger(),
	}
}

// Serve implements suture.Service.
func (s *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Debug().Dur("interval", s.interval).Msg("periodic service started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.run(ctx); err != nil {
				s.log.Error().Err(err).Msg("periodic task failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *PeriodicService) String() string {
	return s.name
}
