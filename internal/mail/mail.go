// Package mail defines the transport boundary of the assistant: an inbound
// source of unread customer messages and an outbound sender for drafted
// replies. The conversation core only ever sees these interfaces; the Gmail
// implementation lives in gmail.go.
package mail

import (
	"context"
	"time"
)

// Message is one inbound email, reduced to the fields the conversation core
// needs. Body is the plain-text content; HTML-only messages are delivered
// with their HTML stripped by the transport where possible.
type Message struct {
	ID         string    // transport-assigned message id, stable across fetches
	ThreadID   string    // transport thread hint (informational; identity is derived from subject+sender)
	From       string    // counterpart address
	FromName   string    // counterpart display name, may be empty
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Reply is an outbound response to a customer.
type Reply struct {
	To       string
	Subject  string
	Body     string
	ThreadID string // set when answering within an existing transport thread
}

// Source yields unread inbound messages. Implementations must return each
// message with a stable ID; the core never re-fetches already-delivered
// content and tracks processing durably on its side.
type Source interface {
	// Unread lists currently unread messages addressed to the assistant.
	Unread(ctx context.Context) ([]Message, error)
	// MarkRead flags a message as handled at the transport so the next
	// Unread call no longer returns it.
	MarkRead(ctx context.Context, messageID string) error
}

// Sender delivers outbound replies. Transport-level send failures are
// reported once; the core records them but does not manage retries.
type Sender interface {
	Send(ctx context.Context, r Reply) error
}
