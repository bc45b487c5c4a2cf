// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/clipstream/clipstream/internal/analytics"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/executor"
	"github.com/clipstream/clipstream/internal/quota"
	"github.com/clipstream/clipstream/internal/security"
	"github.com/clipstream/clipstream/internal/store"
	"github.com/clipstream/clipstream/internal/trust"
)

const testToken = "test-admin-token"

type stubExtractor struct{}

func (stubExtractor) Probe(ctx context.Context, mediaID string) (*executor.Metadata, error) {
	return &executor.Metadata{Title: "Clip", Duration: time.Minute}, nil
}

func (stubExtractor) Fetch(ctx context.Context, req executor.FetchRequest) error {
	return os.WriteFile(req.DestPath, []byte("x"), 0o644)
}

type stubBroadcaster struct {
	sent int
}

func (b *stubBroadcaster) Broadcast(ctx context.Context, message string) (int, error) {
	b.sent++
	return 3, nil
}

func newTestServer(t *testing.T) (*Server, Deps) {
	t.Helper()

	st, err := store.Open(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	trustCfg := config.TrustConfig{
		InitialScore: 100, ViolationPenalty: 15, RecoveryPerDay: 2,
		AutoBanViolations: 10, AutoBanScore: 20, DenyBelowScore: 20, UnblockScore: 75,
	}
	ts := trust.NewStore(trustCfg)
	ctrl := security.NewController(config.SecurityConfig{
		RateLimitPerIdentity: 30, RateLimitGlobal: 1000,
		RateWindow: time.Minute, MaxLocatorLength: 2000, Trust: trustCfg,
	}, ts)

	deps := Deps{
		Admission: ctrl,
		Trust:     ts,
		Ledger: quota.NewLedger(config.QuotaConfig{
			FreeLimit: 15, Period: time.Hour, Cooldown: 30 * time.Minute,
			CacheSize: 100, CacheTTL: time.Minute,
		}, st),
		Executor: executor.New(config.DownloadConfig{
			MaxConcurrent: 5, MaxFileSize: 50 << 20, MaxDuration: time.Hour,
			JobTimeout: time.Minute, ScratchDir: t.TempDir(),
		}, stubExtractor{}),
		Events: analytics.NewAggregator(config.AnalyticsConfig{
			MaxEvents: 100, JourneyLength: 50, SessionTimeout: 30 * time.Minute,
			Retention: 30 * 24 * time.Hour,
			Engagement: config.EngagementConfig{
				EventWeight: 2, EventCap: 40, VarietyWeight: 5, VarietyCap: 20,
				FrequencyCap: 20, DownloadWeight: 2, DownloadCap: 20,
			},
		}),
		Store:       st,
		Broadcaster: &stubBroadcaster{},
	}

	srv := NewServer(config.ServerConfig{
		Host: "127.0.0.1", Port: 8090, Timeout: 30 * time.Second,
		AdminToken: testToken, RateLimitReqs: 1000, RateLimitWindow: time.Minute,
	}, deps)
	return srv, deps
}

func doRequest(t *testing.T, srv *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong token = %d, want 401", w.Code)
	}
}

func TestEmptyTokenDisablesAdminSurface(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.AdminToken = ""

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", false)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)

	deps.Events.Record("user1", analytics.EventRequest, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"admission", "executor", "events", "last_hour"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("stats response missing %q", key)
		}
	}
}

func TestIdentityInspection(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/identities/user1/", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp identityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision.Remaining != 15 {
		t.Errorf("Remaining = %d, want 15", resp.Decision.Remaining)
	}
	if resp.Blocked {
		t.Error("fresh identity should not be blocked")
	}
}

func TestGrantAndRevokePremium(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/identities/vip/premium", `{"days":30}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status = %d: %s", rec.Code, rec.Body.String())
	}

	d, _ := deps.Ledger.Evaluate("vip")
	if !d.Premium {
		t.Error("grant did not take effect")
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/identities/vip/premium", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}

	d, _ = deps.Ledger.Evaluate("vip")
	if d.Premium {
		t.Error("revoke did not take effect")
	}

	// Both mutations are audited
	actions, _ := deps.Store.ListAdminActions(0)
	if len(actions) != 2 {
		t.Errorf("audit entries = %d, want 2", len(actions))
	}
}

func TestBlockAndUnblock(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/identities/baddie/block", `{"reason":"abuse"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("block status = %d", rec.Code)
	}
	if !deps.Admission.IsBlocked("baddie") {
		t.Error("block did not take effect")
	}

	// Block state persisted for restart hydration
	blocked, _ := deps.Store.BlockedIdentities()
	if blocked["baddie"] != "abuse" {
		t.Errorf("persisted block reason = %q, want abuse", blocked["baddie"])
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/identities/baddie/unblock", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unblock status = %d", rec.Code)
	}
	if deps.Admission.IsBlocked("baddie") {
		t.Error("unblock did not take effect")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/identities/baddie/unblock", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double unblock status = %d, want 404", rec.Code)
	}
}

func TestBroadcast(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/broadcast", `{"message":"maintenance at noon"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	b := deps.Broadcaster.(*stubBroadcaster)
	if b.sent != 1 {
		t.Errorf("broadcasts = %d, want 1", b.sent)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/broadcast", `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}
}

func TestBroadcastWithoutTransport(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.deps.Broadcaster = nil

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/broadcast", `{"message":"hello"}`, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDownloadsEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)

	deps.Store.AppendDownload(&store.DownloadRecord{
		Identity: "user1", MediaID: "dQw4w9WgXcQ", Quality: "quality_480p", Outcome: "delivered",
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/downloads?identity=user1", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var rows []store.DownloadRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", false)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "fixed-id" {
		t.Error("inbound X-Request-ID should be honored")
	}
}
