// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package orchestrator drives a download request through its
// lifecycle: admission, entitlement, execution, delivery. Each
// request traverses the stages in order and lands in exactly one
// terminal state. Quota is committed and history persisted only when
// a request reaches Delivered; a failed job never burns budget.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/analytics"
	"github.com/clipstream/clipstream/internal/executor"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/quota"
	"github.com/clipstream/clipstream/internal/security"
	"github.com/clipstream/clipstream/internal/store"
)

// State is a request's terminal state.
type State string

// Terminal states.
const (
	StateDelivered State = "delivered"
	StateDenied    State = "denied"
	StateFailed    State = "failed"
)

// Stage identifies which pipeline stage denied a request.
type Stage string

// Denial stages.
const (
	StageAdmission   Stage = "admission"
	StageEntitlement Stage = "entitlement"
)

// Outcome is the result of one orchestrated request.
type Outcome struct {
	State State

	// DenyStage and DenyReason are set when State is StateDenied.
	DenyStage  Stage
	DenyReason string

	// FailureKind is set when State is StateFailed.
	FailureKind executor.FailureKind

	// Result is set when State is StateDelivered. The caller owns
	// the artifact and must call ReleaseArtifact after delivery.
	Result *executor.Result

	// Decision carries the entitlement evaluated for the request.
	Decision quota.Decision
}

// Orchestrator coordinates the request pipeline.
type Orchestrator struct {
	admission *security.Controller
	ledger    *quota.Ledger
	exec      *executor.Executor
	events    *analytics.Aggregator
	store     *store.Store
	log       zerolog.Logger
}

// New wires an orchestrator from its collaborators.
func New(
	admission *security.Controller,
	ledger *quota.Ledger,
	exec *executor.Executor,
	events *analytics.Aggregator,
	st *store.Store,
) *Orchestrator {
	return &Orchestrator{
		admission: admission,
		ledger:    ledger,
		exec:      exec,
		events:    events,
		store:     st,
		log:       logging.With().Str("component", "orchestrator").Logger(),
	}
}

// Handle runs one download request through the pipeline.
//
// The requested tier is clamped to the identity's plan ceiling rather
// than rejected; asking for 1080p on a free plan delivers 480p.
func (o *Orchestrator) Handle(ctx context.Context, identity, locator, rawTier string) Outcome {
	o.events.Record(identity, analytics.EventRequest, locator)

	verdict := o.admission.Check(identity, locator)
	if !verdict.Allowed {
		o.events.Record(identity, analytics.EventDenied, string(verdict.Reason))
		metrics.RequestsTotal.WithLabelValues(string(StateDenied)).Inc()
		return Outcome{
			State:      StateDenied,
			DenyStage:  StageAdmission,
			DenyReason: string(verdict.Reason),
		}
	}

	decision, err := o.ledger.Evaluate(identity)
	if err != nil {
		o.log.Error().Err(err).Str("identity", identity).Msg("entitlement evaluation failed")
		metrics.RequestsTotal.WithLabelValues(string(StateFailed)).Inc()
		return Outcome{State: StateFailed, FailureKind: executor.FailureExtraction}
	}
	if !decision.CanDownload {
		o.events.Record(identity, analytics.EventDenied, string(decision.Reason))
		metrics.RequestsTotal.WithLabelValues(string(StateDenied)).Inc()
		return Outcome{
			State:      StateDenied,
			DenyStage:  StageEntitlement,
			DenyReason: string(decision.Reason),
			Decision:   decision,
		}
	}

	// No requested tier means the best video quality the plan allows.
	var tier quota.Tier
	if rawTier == "" {
		tier, _ = quota.Ceilings(decision.Premium)
	} else {
		tier, err = quota.ParseTier(rawTier)
		if err != nil {
			o.events.Record(identity, analytics.EventFailed, "unknown tier")
			metrics.RequestsTotal.WithLabelValues(string(StateFailed)).Inc()
			return Outcome{State: StateFailed, FailureKind: executor.FailureInvalidInput, Decision: decision}
		}
		tier = quota.ClampTier(tier, decision.Premium)
	}

	result, err := o.exec.Run(ctx, executor.Request{
		Identity: identity,
		MediaID:  verdict.MediaID,
		Quality:  string(tier),
	})
	if err != nil {
		kind := executor.KindOf(err)
		o.events.Record(identity, analytics.EventFailed, string(kind))
		metrics.RequestsTotal.WithLabelValues(string(StateFailed)).Inc()
		return Outcome{State: StateFailed, FailureKind: kind, Decision: decision}
	}

	// Delivery bookkeeping: commit quota, persist history, record the
	// event. Only now does the request count against the budget.
	if err := o.ledger.Commit(identity); err != nil {
		o.log.Error().Err(err).Str("identity", identity).Msg("quota commit failed after delivery")
	}
	if err := o.store.AppendDownload(&store.DownloadRecord{
		Identity:  identity,
		MediaID:   verdict.MediaID,
		Quality:   string(tier),
		SizeBytes: result.SizeBytes,
		Duration:  result.Duration,
		Outcome:   string(StateDelivered),
		CreatedAt: time.Now(),
	}); err != nil {
		o.log.Error().Err(err).Str("identity", identity).Msg("download history write failed")
	}
	o.events.Record(identity, analytics.EventDelivered, verdict.MediaID)
	o.events.RecordDownloadDuration(result.Elapsed)
	metrics.RequestsTotal.WithLabelValues(string(StateDelivered)).Inc()

	return Outcome{State: StateDelivered, Result: result, Decision: decision}
}

// ReleaseArtifact removes a delivered artifact from scratch once the
// transport has handed it off.
func (o *Orchestrator) ReleaseArtifact(result *executor.Result) {
	if result == nil {
		return
	}
	o.exec.CleanupDelivered(result.ArtifactPath)
}
