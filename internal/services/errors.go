// Package services implements the conversation core: the state machine that
// advances a conversation on each inbound message, the per-message
// processing service around it, and the polling orchestrator.
// This file centralizes common service-level error values so that they can
// be consistently returned by service methods and checked by callers.
package services

import "errors"

var (
	// ErrMessageSkipped indicates the inbound message was recognized as
	// already processed and deliberately not folded again.
	ErrMessageSkipped = errors.New("message already processed")

	// ErrConflictRetriesExhausted is returned when repeated version
	// conflicts prevented persisting a recomputed conversation.
	ErrConflictRetriesExhausted = errors.New("too many version conflicts")

	// ErrEmptyMessage is returned for an inbound message without usable
	// body text.
	ErrEmptyMessage = errors.New("message body is empty")
)
