// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/logging"
)

const telegramAPIBase = "https://api.telegram.org"

// longPollTimeout is the Telegram getUpdates long-poll window in
// seconds. The HTTP client timeout must exceed it.
const longPollTimeout = 30

// TelegramTransport implements Transport over the Telegram Bot API
// with long polling. Identities are stringified chat IDs.
type TelegramTransport struct {
	token   string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	// offset is the next update ID to request. Accessed only from
	// the Receive loop.
	offset int64

	// pending buffers updates from a poll batch between Receive calls.
	pending []Message
}

// NewTelegramTransport creates a transport for the given bot token.
func NewTelegramTransport(token string) *TelegramTransport {
	return &TelegramTransport{
		token:   token,
		baseURL: telegramAPIBase,
		client: &http.Client{
			Timeout: (longPollTimeout + 10) * time.Second,
		},
		log: logging.With().Str("component", "telegram").Logger(),
	}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *TelegramTransport) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

// Receive returns the next buffered update, long polling when the
// buffer is empty.
func (t *TelegramTransport) Receive(ctx context.Context) (Message, error) {
	for len(t.pending) == 0 {
		if err := t.poll(ctx); err != nil {
			return Message{}, err
		}
	}
	msg := t.pending[0]
	t.pending = t.pending[1:]
	return msg, nil
}

func (t *TelegramTransport) poll(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"offset":          t.offset,
		"timeout":         longPollTimeout,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return err
	}

	var updates []telegramUpdate
	if err := t.call(ctx, "getUpdates", "application/json", bytes.NewReader(body), &updates); err != nil {
		return fmt.Errorf("getUpdates: %w", err)
	}

	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		t.pending = append(t.pending, Message{
			Identity: strconv.FormatInt(u.Message.Chat.ID, 10),
			Text:     u.Message.Text,
		})
	}
	return nil
}

// Send delivers a text message to a chat.
func (t *TelegramTransport) Send(ctx context.Context, identity, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": identity,
		"text":    text,
	})
	if err != nil {
		return err
	}
	if err := t.call(ctx, "sendMessage", "application/json", bytes.NewReader(body), nil); err != nil {
		return fmt.Errorf("sendMessage to %s: %w", identity, err)
	}
	return nil
}

// SendFile uploads an artifact as a document with a caption.
func (t *TelegramTransport) SendFile(ctx context.Context, identity, path, filename, caption string) error {
	if filename == "" {
		filename = filepath.Base(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", identity); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	if err := t.call(ctx, "sendDocument", mw.FormDataContentType(), &buf, nil); err != nil {
		return fmt.Errorf("sendDocument to %s: %w", identity, err)
	}
	return nil
}

// call issues one Bot API request and decodes the result into out
// when out is non-nil.
func (t *TelegramTransport) call(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL(method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !tr.OK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, tr.Description)
	}
	if out != nil {
		if err := json.Unmarshal(tr.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
