// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package api serves the operational HTTP surface: health, metrics,
// aggregate stats, per-identity inspection, and the admin actions
// (premium grants, blocks, broadcasts). Admin routes require the
// configured bearer token and every mutation is written to the
// append-only audit log.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/analytics"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/executor"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/quota"
	"github.com/clipstream/clipstream/internal/security"
	"github.com/clipstream/clipstream/internal/store"
	"github.com/clipstream/clipstream/internal/trust"
)

// Broadcaster sends a message to every known identity. Implemented by
// the chat gateway; nil when the gateway is disabled.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) (int, error)
}

// Deps bundles the collaborators the API exposes.
type Deps struct {
	Admission   *security.Controller
	Trust       *trust.Store
	Ledger      *quota.Ledger
	Executor    *executor.Executor
	Events      *analytics.Aggregator
	Store       *store.Store
	Broadcaster Broadcaster
}

// Server is the operational HTTP server. It implements
// suture.Service.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	log  zerolog.Logger
	mux  *chi.Mux
}

// NewServer builds the HTTP server and its routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logging.With().Str("component", "api").Logger(),
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAdminToken)

		r.Get("/stats", s.handleStats)
		r.Get("/downloads", s.handleDownloads)
		r.Get("/actions", s.handleActions)
		r.Post("/broadcast", s.handleBroadcast)

		r.Route("/identities/{id}", func(r chi.Router) {
			r.Get("/", s.handleIdentity)
			r.Get("/journey", s.handleJourney)
			r.Post("/premium", s.handleGrantPremium)
			r.Delete("/premium", s.handleRevokePremium)
			r.Post("/block", s.handleBlock)
			r.Post("/unblock", s.handleUnblock)
		})
	})

	return r
}

// Serve implements suture.Service. It runs the HTTP server until the
// context is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// String implements fmt.Stringer for suture logging.
func (s *Server) String() string {
	return "api-server"
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse aggregates every subsystem's counters.
type statsResponse struct {
	Admission security.MetricsSnapshot      `json:"admission"`
	Executor  executor.Stats                `json:"executor"`
	Events    map[analytics.EventType]int64 `json:"events"`
	Durations analytics.DurationPercentiles `json:"durations"`
	Summary   analytics.Summary             `json:"last_hour"`
	Downloads int                           `json:"stored_downloads"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Store.CountDownloads()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Admission: s.deps.Admission.Snapshot(),
		Executor:  s.deps.Executor.Stats(),
		Events:    s.deps.Events.TotalsByType(),
		Durations: s.deps.Events.Percentiles(),
		Summary:   s.deps.Events.Summarize(time.Hour),
		Downloads: count,
	})
}

// identityResponse joins an identity's quota, trust, and block state.
type identityResponse struct {
	Record     *store.IdentityRecord `json:"record"`
	Decision   quota.Decision        `json:"entitlement"`
	Trust      trust.Snapshot        `json:"trust"`
	Blocked    bool                  `json:"blocked"`
	Engagement float64               `json:"engagement_score"`
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.deps.Ledger.Inspect(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "identity lookup failed")
		return
	}
	decision, err := s.deps.Ledger.Evaluate(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "entitlement lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{
		Record:     rec,
		Decision:   decision,
		Trust:      s.deps.Trust.SnapshotFor(id),
		Blocked:    s.deps.Admission.IsBlocked(id),
		Engagement: s.deps.Events.EngagementScore(id),
	})
}

func (s *Server) handleJourney(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, s.deps.Events.Journey(id))
}

type premiumRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req premiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var expiry time.Time
	if req.Days > 0 {
		expiry = time.Now().Add(time.Duration(req.Days) * 24 * time.Hour)
	}

	if err := s.deps.Ledger.GrantPremium(id, expiry); err != nil {
		writeError(w, http.StatusInternalServerError, "grant failed")
		return
	}
	s.audit(r, "grant_premium", id, fmt.Sprintf("days=%d", req.Days))
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "premium": true, "expiry": expiry})
}

func (s *Server) handleRevokePremium(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.deps.Ledger.RevokePremium(id); err != nil {
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	s.audit(r, "revoke_premium", id, "")
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "premium": false})
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual block"
	}

	s.deps.Admission.Block(id, req.Reason)
	s.persistBlockState(id, true, req.Reason)
	s.audit(r, "block", id, req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "blocked": true})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.deps.Admission.Unblock(id) {
		writeError(w, http.StatusNotFound, "identity is not blocked")
		return
	}
	s.persistBlockState(id, false, "")
	s.audit(r, "unblock", id, "")
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "blocked": false})
}

// persistBlockState mirrors the in-memory block set to the identity
// record so blocks survive restarts.
func (s *Server) persistBlockState(id string, blocked bool, reason string) {
	rec, err := s.deps.Store.GetIdentity(id)
	if errors.Is(err, store.ErrNotFound) {
		rec = &store.IdentityRecord{ID: id, CreatedAt: time.Now()}
	} else if err != nil {
		s.log.Error().Err(err).Str("identity", id).Msg("block state load failed")
		return
	}
	rec.Blocked = blocked
	rec.BlockReason = reason
	if err := s.deps.Store.PutIdentity(rec); err != nil {
		s.log.Error().Err(err).Str("identity", id).Msg("block state persist failed")
	}
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	limit := queryInt(r, "limit", 50)

	rows, err := s.deps.Store.ListDownloads(identity, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	actions, err := s.deps.Store.ListAdminActions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast transport not configured")
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sent, err := s.deps.Broadcaster.Broadcast(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}
	s.audit(r, "broadcast", "*", fmt.Sprintf("recipients=%d", sent))
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

// audit appends an admin action to the durable audit log.
func (s *Server) audit(r *http.Request, action, target, detail string) {
	entry := &store.AdminAction{
		Actor:  "api",
		Action: action,
		Target: target,
		Detail: detail,
	}
	if err := s.deps.Store.AppendAdminAction(entry); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit write failed")
	}
	s.deps.Events.Record(target, analytics.EventAdminOp, action)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
