// Package transport defines the chat-platform-neutral types and the Messenger
// interface consumed by the spawn engine and the operator command surface.
//
// The engine never imports a concrete chat SDK; adapters (see the telegram
// subpackage) translate these types to the wire.
package transport

import (
	"context"
	"time"
)

// ChatTarget addresses an outbound message.
type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies a previously sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// MessageInfo is the subset of a fetched message the engine cares about.
type MessageInfo struct {
	AuthorID int64
	SentAt   time.Time
}

// Message is an inbound chat message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Messenger is the outbound/lookup surface the engine needs from a chat
// platform. All calls honor ctx and return explicit errors; callers decide
// which failures are fatal.
type Messenger interface {
	// SelfID is the bot's own user id (used to reject foreign messages
	// during recovery and self-messages during resolution).
	SelfID() int64

	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)

	// SendPhoto publishes photo bytes with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, photo []byte, filename, caption string) (MessageRef, error)

	// FetchMessage resolves author and timestamp of a previously sent
	// message. An error means the message (or its chat) is unreachable.
	FetchMessage(ctx context.Context, ref MessageRef) (MessageInfo, error)

	// DeleteMessage removes a previously sent message. Missing messages and
	// permission failures surface as errors; callers treat them best-effort.
	DeleteMessage(ctx context.Context, ref MessageRef) error
}
