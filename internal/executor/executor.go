// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package executor runs download jobs under a bounded concurrency
// budget. Jobs queue FIFO for a weighted semaphore slot, probe the
// media first to fail fast on oversized items, then fetch into a
// unique scratch path. Scratch files are removed on every failure
// path, including the alternate container extensions an audio fetch
// may produce.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
)

// JobState tracks a job through its lifecycle.
type JobState string

// Job states. Queued and Running are transient; the rest are
// terminal.
const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Request describes one download job.
type Request struct {
	Identity string
	MediaID  string
	Quality  string
}

// Result is the outcome of a successful job.
type Result struct {
	JobID        string
	Title        string
	ArtifactPath string
	SizeBytes    int64
	Duration     time.Duration
	Elapsed      time.Duration
}

// Stats is an aggregate view of executor activity.
type Stats struct {
	Active         int64                 `json:"active"`
	Queued         int64                 `json:"queued"`
	Total          int64                 `json:"total"`
	Succeeded      int64                 `json:"succeeded"`
	Failed         int64                 `json:"failed"`
	FailuresByKind map[FailureKind]int64 `json:"failures_by_kind"`
	BytesDelivered int64                 `json:"bytes_delivered"`
	AvgJobSeconds  float64               `json:"avg_job_seconds"`
}

// Executor runs download jobs. Safe for concurrent use.
type Executor struct {
	cfg       config.DownloadConfig
	extractor Extractor
	slots     *semaphore.Weighted
	log       zerolog.Logger

	mu             sync.Mutex
	active         int64
	queued         int64
	total          int64
	succeeded      int64
	failed         int64
	failuresByKind map[FailureKind]int64
	bytesDelivered int64
	totalJobTime   time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an executor with cfg.MaxConcurrent slots.
func New(cfg config.DownloadConfig, extractor Extractor) *Executor {
	return &Executor{
		cfg:            cfg,
		extractor:      extractor,
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:            logging.With().Str("component", "executor").Logger(),
		failuresByKind: make(map[FailureKind]int64),
		now:            time.Now,
	}
}

// Run executes one download job to completion. It blocks until a
// slot is free (respecting ctx cancellation while queued), probes the
// media, fetches it into scratch, and verifies the artifact size.
//
// On success the caller owns the artifact at Result.ArtifactPath and
// must remove it after delivery. On any failure all scratch files
// are already cleaned up.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	jobID := uuid.NewString()
	log := e.log.With().
		Str("job_id", jobID).
		Str("identity", req.Identity).
		Str("media_id", req.MediaID).
		Str("quality", req.Quality).
		Logger()

	if req.MediaID == "" || req.Quality == "" {
		return nil, failure(FailureInvalidInput, errors.New("media ID and quality are required"))
	}

	e.noteQueued(1)
	log.Debug().Msg("job queued")

	waitStart := e.now()
	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.noteQueued(-1)
		// A caller giving up while queued (shutdown, disconnect) is
		// not a timeout; timeouts are retryable, cancellation is not.
		kind := FailureTimeout
		if errors.Is(err, context.Canceled) {
			kind = FailureCanceled
		}
		e.noteFinished(StateFailed, kind, 0, 0)
		return nil, failure(kind, fmt.Errorf("waiting for slot: %w", err))
	}
	defer e.slots.Release(1)
	metrics.SlotWait.Observe(e.now().Sub(waitStart).Seconds())

	e.noteQueued(-1)
	e.noteActive(1)
	defer e.noteActive(-1)
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	start := e.now()
	result, err := e.execute(ctx, jobID, req, log)
	elapsed := e.now().Sub(start)

	if err != nil {
		kind := KindOf(err)
		e.noteFinished(StateFailed, kind, 0, elapsed)
		metrics.JobsTotal.WithLabelValues(string(kind)).Inc()
		metrics.JobDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("job failed")
		return nil, err
	}

	result.Elapsed = elapsed
	e.noteFinished(StateSucceeded, "", result.SizeBytes, elapsed)
	metrics.JobsTotal.WithLabelValues("succeeded").Inc()
	metrics.JobDuration.WithLabelValues("succeeded").Observe(elapsed.Seconds())
	metrics.ArtifactBytes.Observe(float64(result.SizeBytes))
	log.Info().Dur("elapsed", elapsed).Int64("bytes", result.SizeBytes).Msg("job succeeded")
	return result, nil
}

// execute runs the probe/fetch/verify pipeline inside the job
// timeout.
func (e *Executor) execute(ctx context.Context, jobID string, req Request, log zerolog.Logger) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	md, err := e.extractor.Probe(ctx, req.MediaID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure(ctxFailureKind(ctx), err)
		}
		return nil, failure(FailureMetadata, err)
	}

	if md.Duration > e.cfg.MaxDuration {
		return nil, failure(FailureDurationExceeded,
			fmt.Errorf("media runs %s, ceiling is %s", md.Duration, e.cfg.MaxDuration))
	}
	if md.EstimatedSize > 0 && md.EstimatedSize > e.cfg.MaxFileSize {
		return nil, failure(FailureFileTooLarge,
			fmt.Errorf("estimated %d bytes, ceiling is %d", md.EstimatedSize, e.cfg.MaxFileSize))
	}

	name := scratchName(req.MediaID, req.Quality, req.Identity, e.now())
	destPath := filepath.Join(e.cfg.ScratchDir, name+".mp4")

	fetchErr := e.extractor.Fetch(ctx, FetchRequest{
		MediaID:  req.MediaID,
		Quality:  req.Quality,
		DestPath: destPath,
		MaxBytes: e.cfg.MaxFileSize,
	})
	if fetchErr != nil {
		removeArtifacts(destPath)
		if ctx.Err() != nil {
			return nil, failure(ctxFailureKind(ctx), fetchErr)
		}
		return nil, failure(FailureExtraction, fetchErr)
	}

	artifactPath, size, err := e.locateArtifact(destPath)
	if err != nil {
		removeArtifacts(destPath)
		return nil, failure(FailureExtraction, err)
	}
	if size > e.cfg.MaxFileSize {
		removeArtifacts(destPath)
		return nil, failure(FailureFileTooLarge,
			fmt.Errorf("artifact is %d bytes, ceiling is %d", size, e.cfg.MaxFileSize))
	}

	return &Result{
		JobID:        jobID,
		Title:        md.Title,
		ArtifactPath: artifactPath,
		SizeBytes:    size,
		Duration:     md.Duration,
	}, nil
}

// ctxFailureKind maps a dead job context to a failure kind. The job
// deadline expiring is a timeout; the caller canceling is not.
func ctxFailureKind(ctx context.Context) FailureKind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return FailureCanceled
	}
	return FailureTimeout
}

// locateArtifact finds the file the extractor actually wrote: the
// requested path, or one of the alternate audio extensions.
func (e *Executor) locateArtifact(destPath string) (string, int64, error) {
	candidates := []string{destPath}
	stem := destPath[:len(destPath)-len(filepath.Ext(destPath))]
	for _, ext := range alternateExtensions {
		candidates = append(candidates, stem+ext)
	}

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, info.Size(), nil
		}
	}
	return "", 0, errors.New("extractor reported success but produced no artifact")
}

// CleanupDelivered removes a delivered artifact and any alternate
// extension siblings. Called by the delivery layer once the artifact
// has been handed off.
func (e *Executor) CleanupDelivered(artifactPath string) {
	removeArtifacts(artifactPath)
}

// Stats returns a snapshot of executor activity.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byKind := make(map[FailureKind]int64, len(e.failuresByKind))
	for k, v := range e.failuresByKind {
		byKind[k] = v
	}

	s := Stats{
		Active:         e.active,
		Queued:         e.queued,
		Total:          e.total,
		Succeeded:      e.succeeded,
		Failed:         e.failed,
		FailuresByKind: byKind,
		BytesDelivered: e.bytesDelivered,
	}
	finished := e.succeeded + e.failed
	if finished > 0 {
		s.AvgJobSeconds = e.totalJobTime.Seconds() / float64(finished)
	}
	return s
}

func (e *Executor) noteQueued(delta int64) {
	e.mu.Lock()
	e.queued += delta
	e.mu.Unlock()
}

func (e *Executor) noteActive(delta int64) {
	e.mu.Lock()
	e.active += delta
	e.mu.Unlock()
}

func (e *Executor) noteFinished(state JobState, kind FailureKind, bytes int64, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	e.totalJobTime += elapsed
	switch state {
	case StateSucceeded:
		e.succeeded++
		e.bytesDelivered += bytes
	case StateFailed:
		e.failed++
		if kind != "" {
			e.failuresByKind[kind]++
		}
	}
}
