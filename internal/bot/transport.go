// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package bot

import "context"

// Message is one inbound chat message.
type Message struct {
	// Identity is the stable identifier of the sender.
	Identity string

	// Text is the raw message body.
	Text string
}

// Transport abstracts the chat platform the gateway speaks through.
// Implementations must honor context cancellation on every call.
type Transport interface {
	// Receive blocks until the next inbound message arrives or the
	// context is canceled.
	Receive(ctx context.Context) (Message, error)

	// Send delivers a text reply to an identity.
	Send(ctx context.Context, identity, text string) error

	// SendFile delivers a media artifact with a caption, presented to
	// the recipient under filename. The caller retains ownership of
	// the file at path.
	SendFile(ctx context.Context, identity, path, filename, caption string) error
}
