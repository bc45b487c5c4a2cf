// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package metrics defines the Prometheus instrumentation shared
// across the service. All collectors are registered on the default
// registry via promauto and exposed on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission metrics.
var (
	// AdmissionDenials counts denied requests by denial reason.
	AdmissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "admission",
		Name:      "denials_total",
		Help:      "Requests denied at admission, by reason.",
	}, []string{"reason"})

	// BlockedIdentities tracks the current size of the block set.
	BlockedIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipstream",
		Subsystem: "admission",
		Name:      "blocked_identities",
		Help:      "Identities currently in the block set.",
	})

	// TrustViolations counts recorded trust violations.
	TrustViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "trust",
		Name:      "violations_total",
		Help:      "Trust violations recorded across all identities.",
	})
)

// Quota metrics.
var (
	// QuotaDenials counts entitlement denials by reason.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "quota",
		Name:      "denials_total",
		Help:      "Download requests denied by the quota ledger, by reason.",
	}, []string{"reason"})

	// QuotaCommits counts committed downloads by tier.
	QuotaCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "quota",
		Name:      "commits_total",
		Help:      "Downloads committed against quota, by tier.",
	}, []string{"tier"})
)

// Executor metrics.
var (
	// JobsActive tracks currently running download jobs.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipstream",
		Subsystem: "executor",
		Name:      "jobs_active",
		Help:      "Download jobs currently holding an executor slot.",
	})

	// JobsTotal counts finished jobs by outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "executor",
		Name:      "jobs_total",
		Help:      "Finished download jobs, by outcome.",
	}, []string{"outcome"})

	// JobDuration observes wall-clock job duration by outcome.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clipstream",
		Subsystem: "executor",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of download jobs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"outcome"})

	// SlotWait observes how long jobs waited for an executor slot.
	SlotWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clipstream",
		Subsystem: "executor",
		Name:      "slot_wait_seconds",
		Help:      "Time spent waiting for a free executor slot.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	// ArtifactBytes observes delivered artifact sizes.
	ArtifactBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clipstream",
		Subsystem: "executor",
		Name:      "artifact_bytes",
		Help:      "Size of delivered artifacts in bytes.",
		Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 8),
	})
)

// Analytics metrics.
var (
	// EventsRecorded counts analytics events by type.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "analytics",
		Name:      "events_total",
		Help:      "Analytics events recorded, by event type.",
	}, []string{"type"})

	// SessionsActive tracks currently open analytics sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipstream",
		Subsystem: "analytics",
		Name:      "sessions_active",
		Help:      "Analytics sessions currently open.",
	})
)

// Orchestrator metrics.
var (
	// RequestsTotal counts orchestrated requests by terminal state.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "orchestrator",
		Name:      "requests_total",
		Help:      "Orchestrated download requests, by terminal state.",
	}, []string{"state"})
)

// Bot gateway metrics.
var (
	// MessagesReceived counts inbound chat messages.
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "bot",
		Name:      "messages_received_total",
		Help:      "Inbound chat messages received by the gateway.",
	})

	// BroadcastsSent counts outbound broadcast messages.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipstream",
		Subsystem: "bot",
		Name:      "broadcasts_sent_total",
		Help:      "Broadcast messages delivered to recipients.",
	})
)
