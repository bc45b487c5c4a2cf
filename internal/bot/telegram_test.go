// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package bot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// fakeTelegramAPI serves canned Bot API responses and records calls.
type fakeTelegramAPI struct {
	mu      sync.Mutex
	updates []byte
	calls   map[string]int
	lastReq map[string][]byte
}

func newFakeTelegramAPI(updates string) *fakeTelegramAPI {
	return &fakeTelegramAPI{
		updates: []byte(updates),
		calls:   make(map[string]int),
		lastReq: make(map[string][]byte),
	}
}

func (f *fakeTelegramAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()

		f.mu.Lock()
		f.calls[method]++
		f.lastReq[method] = body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getUpdates":
			w.Write([]byte(`{"ok":true,"result":` + string(f.updates) + `}`))
		default:
			w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	})
}

func newAPITransport(t *testing.T, api *fakeTelegramAPI) *TelegramTransport {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	tr := NewTelegramTransport("test-token")
	tr.baseURL = srv.URL
	return tr
}

func TestTelegramReceiveParsesUpdates(t *testing.T) {
	api := newFakeTelegramAPI(`[
		{"update_id":10,"message":{"chat":{"id":42},"text":"/start"}},
		{"update_id":11,"message":{"chat":{"id":43},"text":"hello"}},
		{"update_id":12}
	]`)
	tr := newAPITransport(t, api)

	msg, err := tr.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.Identity != "42" || msg.Text != "/start" {
		t.Errorf("msg = %+v", msg)
	}

	// Second update comes from the buffer without another poll.
	msg, err = tr.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.Identity != "43" || msg.Text != "hello" {
		t.Errorf("msg = %+v", msg)
	}
	if api.calls["getUpdates"] != 1 {
		t.Errorf("getUpdates calls = %d, want 1", api.calls["getUpdates"])
	}

	// Offset advances past the highest seen update.
	if tr.offset != 13 {
		t.Errorf("offset = %d, want 13", tr.offset)
	}
}

func TestTelegramSend(t *testing.T) {
	api := newFakeTelegramAPI(`[]`)
	tr := newAPITransport(t, api)

	if err := tr.Send(context.Background(), "42", "hello there"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(api.lastReq["sendMessage"], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req["chat_id"] != "42" || req["text"] != "hello there" {
		t.Errorf("request = %v", req)
	}
}

func TestTelegramSendFile(t *testing.T) {
	api := newFakeTelegramAPI(`[]`)
	tr := newAPITransport(t, api)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tr.SendFile(context.Background(), "42", path, "My Clip.mp4", "Test Clip"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	raw := string(api.lastReq["sendDocument"])
	for _, want := range []string{"My Clip.mp4", "Test Clip", "payload"} {
		if !strings.Contains(raw, want) {
			t.Errorf("multipart body missing %q", want)
		}
	}
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	tr := NewTelegramTransport("test-token")
	tr.baseURL = srv.URL

	err := tr.Send(context.Background(), "999", "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v, want api error with description", err)
	}
}
