// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package bot runs the chat gateway: it receives messages from a
// Transport, routes commands and download requests through the
// orchestrator, and delivers artifacts back to the sender.
package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/clipstream/clipstream/internal/analytics"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/executor"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/orchestrator"
	"github.com/clipstream/clipstream/internal/quota"
	"github.com/clipstream/clipstream/internal/security"
	"github.com/clipstream/clipstream/internal/store"
)

const helpText = `Send a video link to fetch it.

Commands:
  /start        register and show a welcome message
  /help         this message
  /quota        show your remaining downloads

Append a quality after the link to pick one:
  quality_360p quality_480p quality_720p quality_1080p
  audio_standard audio_hq`

// denialReplies maps pipeline denial reasons to user-facing text.
var denialReplies = map[string]string{
	string(security.DenyBlocked):        "Your access has been suspended. Contact an administrator.",
	string(security.DenyRateIdentity):   "Slow down. You are sending requests too quickly.",
	string(security.DenyRateGlobal):     "The service is busy right now. Try again in a minute.",
	string(security.DenyTrust):          "Too many failed or abusive requests. Access is temporarily restricted.",
	string(security.DenyInvalidLocator): "That does not look like a supported video link.",
	string(security.DenyMalicious):      "That request was rejected.",
	string(security.DenyInternal):       "Something went wrong. Try again later.",
	string(quota.DenyCooldown):          "Quota exhausted. A cooldown is active, try again later.",
	string(quota.DenyExhausted):         "You have used all downloads for this period.",
}

// Gateway is the chat front end. It implements suture.Service and the
// api.Broadcaster interface.
type Gateway struct {
	cfg       config.BotConfig
	transport Transport
	orch      *orchestrator.Orchestrator
	ledger    *quota.Ledger
	store     *store.Store
	events    *analytics.Aggregator
	limiter   *rate.Limiter
	admins    map[string]bool
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// NewGateway wires the gateway from its collaborators.
func NewGateway(
	cfg config.BotConfig,
	transport Transport,
	orch *orchestrator.Orchestrator,
	ledger *quota.Ledger,
	st *store.Store,
	events *analytics.Aggregator,
) *Gateway {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}
	return &Gateway{
		cfg:       cfg,
		transport: transport,
		orch:      orch,
		ledger:    ledger,
		store:     st,
		events:    events,
		limiter:   rate.NewLimiter(rate.Limit(cfg.BroadcastRate), cfg.BroadcastBurst),
		admins:    admins,
		log:       logging.With().Str("component", "gateway").Logger(),
	}
}

// Serve implements suture.Service. It receives messages until the
// context is canceled, handling each in its own goroutine so one slow
// download does not stall the receive loop.
func (g *Gateway) Serve(ctx context.Context) error {
	g.log.Info().Msg("gateway started")
	defer g.wg.Wait()

	for {
		msg, err := g.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Error().Err(err).Msg("receive failed")
			continue
		}
		metrics.MessagesReceived.Inc()

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleMessage(ctx, msg)
		}()
	}
}

// String implements fmt.Stringer for suture logging.
func (g *Gateway) String() string {
	return "chat-gateway"
}

func (g *Gateway) handleMessage(ctx context.Context, msg Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		g.handleStart(ctx, msg.Identity)
	case strings.HasPrefix(text, "/help"):
		g.reply(ctx, msg.Identity, helpText)
	case strings.HasPrefix(text, "/quota"):
		g.handleQuota(ctx, msg.Identity)
	case strings.HasPrefix(text, "/stats"):
		g.handleStats(ctx, msg.Identity)
	case strings.HasPrefix(text, "/broadcast"):
		g.handleAdminBroadcast(ctx, msg.Identity, strings.TrimSpace(strings.TrimPrefix(text, "/broadcast")))
	case strings.HasPrefix(text, "/"):
		g.reply(ctx, msg.Identity, "Unknown command. Send /help for usage.")
	default:
		g.handleDownload(ctx, msg.Identity, text)
	}
}

// handleStart registers the identity so it is reachable by broadcasts.
func (g *Gateway) handleStart(ctx context.Context, identity string) {
	rec, err := g.store.GetIdentity(identity)
	if errors.Is(err, store.ErrNotFound) {
		rec = &store.IdentityRecord{ID: identity, CreatedAt: time.Now()}
	} else if err != nil {
		g.log.Error().Err(err).Str("identity", identity).Msg("identity load failed")
		g.reply(ctx, identity, "Something went wrong. Try again later.")
		return
	}
	rec.LastSeen = time.Now()
	if err := g.store.PutIdentity(rec); err != nil {
		g.log.Error().Err(err).Str("identity", identity).Msg("identity save failed")
	}
	g.reply(ctx, identity, "Welcome. Send a video link to fetch it, or /help for usage.")
}

func (g *Gateway) handleQuota(ctx context.Context, identity string) {
	d, err := g.ledger.Evaluate(identity)
	if err != nil {
		g.reply(ctx, identity, "Something went wrong. Try again later.")
		return
	}
	if d.Premium {
		g.reply(ctx, identity, "Premium plan: unlimited downloads.")
		return
	}
	text := fmt.Sprintf("Downloads remaining this period: %d", d.Remaining)
	if !d.CanDownload && !d.CooldownUntil.IsZero() {
		text += fmt.Sprintf("\nCooldown active until %s.", d.CooldownUntil.Format(time.Kitchen))
	}
	g.reply(ctx, identity, text)
}

func (g *Gateway) handleStats(ctx context.Context, identity string) {
	if !g.admins[identity] {
		g.reply(ctx, identity, "Unknown command. Send /help for usage.")
		return
	}
	totals := g.events.TotalsByType()
	var b strings.Builder
	b.WriteString("Event totals:\n")
	for _, typ := range []analytics.EventType{
		analytics.EventRequest, analytics.EventDelivered,
		analytics.EventDenied, analytics.EventFailed,
	} {
		fmt.Fprintf(&b, "  %s: %d\n", typ, totals[typ])
	}
	g.reply(ctx, identity, b.String())
}

func (g *Gateway) handleAdminBroadcast(ctx context.Context, identity, message string) {
	if !g.admins[identity] {
		g.reply(ctx, identity, "Unknown command. Send /help for usage.")
		return
	}
	if message == "" {
		g.reply(ctx, identity, "Usage: /broadcast <message>")
		return
	}
	sent, err := g.Broadcast(ctx, message)
	if err != nil {
		g.reply(ctx, identity, "Broadcast failed: "+err.Error())
		return
	}
	g.reply(ctx, identity, fmt.Sprintf("Broadcast sent to %d recipients.", sent))
}

// handleDownload treats the message as "<link> [quality]".
func (g *Gateway) handleDownload(ctx context.Context, identity, text string) {
	locator, tier := splitRequest(text)

	outcome := g.orch.Handle(ctx, identity, locator, tier)
	switch outcome.State {
	case orchestrator.StateDelivered:
		defer g.orch.ReleaseArtifact(outcome.Result)
		caption := outcome.Result.Title
		if !outcome.Decision.Premium && outcome.Decision.Remaining >= 0 {
			caption += fmt.Sprintf("\n%d downloads left this period.", outcome.Decision.Remaining-1)
		}
		// The scratch file has a hashed name; deliver under the title.
		filename := executor.SanitizeFilename(outcome.Result.Title) + filepath.Ext(outcome.Result.ArtifactPath)
		if err := g.transport.SendFile(ctx, identity, outcome.Result.ArtifactPath, filename, caption); err != nil {
			g.log.Error().Err(err).Str("identity", identity).Msg("artifact delivery failed")
			g.reply(ctx, identity, "The file was ready but could not be delivered. Try again.")
		}

	case orchestrator.StateDenied:
		text, ok := denialReplies[outcome.DenyReason]
		if !ok {
			text = "That request was denied."
		}
		g.reply(ctx, identity, text)

	case orchestrator.StateFailed:
		g.reply(ctx, identity, failureReply(outcome.FailureKind))
	}
}

func failureReply(kind executor.FailureKind) string {
	switch kind {
	case executor.FailureDurationExceeded:
		return "That video is too long to fetch."
	case executor.FailureFileTooLarge:
		return "That video is too large to fetch at the requested quality."
	case executor.FailureTimeout:
		return "The fetch timed out. Try again later."
	case executor.FailureInvalidInput:
		return "That request could not be processed."
	default:
		return "The fetch failed. Try again later."
	}
}

// splitRequest separates an optional trailing quality token from the
// link. Only the first two fields matter.
func splitRequest(text string) (locator, tier string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	locator = fields[0]
	if len(fields) > 1 {
		tier = fields[1]
	}
	return locator, tier
}

func (g *Gateway) reply(ctx context.Context, identity, text string) {
	if err := g.transport.Send(ctx, identity, text); err != nil {
		g.log.Error().Err(err).Str("identity", identity).Msg("reply failed")
	}
}

// Broadcast sends a message to every registered identity, paced by the
// configured rate limit. It returns the number of successful sends.
func (g *Gateway) Broadcast(ctx context.Context, message string) (int, error) {
	records, err := g.store.ListIdentities()
	if err != nil {
		return 0, fmt.Errorf("list recipients: %w", err)
	}

	sent := 0
	for _, rec := range records {
		if rec.Blocked {
			continue
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := g.transport.Send(ctx, rec.ID, message); err != nil {
			g.log.Warn().Err(err).Str("identity", rec.ID).Msg("broadcast send failed")
			continue
		}
		sent++
		metrics.BroadcastsSent.Inc()
	}

	g.events.Record("*", analytics.EventBroadcast, fmt.Sprintf("recipients=%d", sent))
	g.log.Info().Int("sent", sent).Int("total", len(records)).Msg("broadcast complete")
	return sent, nil
}
