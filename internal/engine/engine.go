// Package engine adapts a language model into the assistant's
// intent/response capability: given the conversation so far and a fresh
// customer message, it classifies intent, extracts slot updates, and drafts
// the reply text. The state machine treats the engine as an opaque function;
// the Gemini implementation lives in gemini.go.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/otl-fi/email-assistant/internal/domain"
)

// ErrUnavailable marks transient engine failures (timeouts, rate limits,
// provider 5xx). Retrying a classification call is safe.
var ErrUnavailable = errors.New("engine unavailable")

// ErrEngine marks non-retryable engine failures, including output that
// cannot be decoded. The caller degrades to a canned fallback reply.
var ErrEngine = errors.New("engine error")

// Result is the engine's answer for one inbound message: a closed intent,
// zero or more slot extractions, the drafted reply, and a language hint for
// subsequent drafts.
type Result struct {
	Intent   domain.Intent       `json:"intent"`
	Slots    []domain.SlotUpdate `json:"slots"`
	Reply    string              `json:"reply"`
	Language string              `json:"language"`
}

// Context is everything the engine sees about the conversation. History is
// ordered oldest first and already includes the new customer message as its
// final turn.
type Context struct {
	History      []domain.Turn
	Slots        domain.Slots
	Stage        domain.Stage
	Counterpart  string // display name, may be empty
	Availability []time.Time
	BookingURL   string
}

// Engine classifies intent and drafts replies.
type Engine interface {
	ClassifyAndDraft(ctx context.Context, conv Context) (*Result, error)
}
