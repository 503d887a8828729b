// Package booking wraps the scheduling service used to turn a completed
// slot set into a confirmed meeting. The conversation core depends only on
// the Booker interface; the Cal.com implementation lives in calcom.go.
//
// Failure taxonomy: every error returned by a Booker wraps exactly one of
// ErrRetryable (transient; a later attempt may succeed and the conversation
// stays open) or ErrTerminal (no automated attempt can succeed; the
// conversation fails). Callers classify with errors.Is.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otl-fi/email-assistant/internal/domain"
)

// ErrRetryable marks transient booking failures (timeouts, 5xx, rate limits).
var ErrRetryable = errors.New("booking temporarily unavailable")

// ErrTerminal marks definitive booking failures (invalid request, no
// availability at all).
var ErrTerminal = errors.New("booking failed")

// Request carries everything needed to create one booking. IdempotencyKey
// must be stable per logical attempt so a retried call cannot double-book.
type Request struct {
	Start          time.Time
	AttendeeEmail  string
	AttendeeName   string
	Language       string
	Notes          string
	IdempotencyKey string
}

// Confirmation is the outcome of a successful booking.
type Confirmation struct {
	Reference string    // scheduling-service booking reference
	Start     time.Time // confirmed start, UTC
	Title     string
}

// Booker creates bookings from completed slot sets.
type Booker interface {
	Book(ctx context.Context, req Request) (*Confirmation, error)
}

// AvailabilityLister exposes upcoming free slots; the orchestrator feeds
// these to the engine so drafts can propose concrete times.
type AvailabilityLister interface {
	Availability(ctx context.Context) ([]time.Time, error)
}

// StartFromSlots combines the extracted date and time slots into a concrete
// start in the given location. The engine normalizes extractions to
// "2006-01-02" and "15:04" before they reach the record, so anything else
// here is a terminal error: retrying the same slots cannot help.
func StartFromSlots(slots domain.Slots, loc *time.Location) (time.Time, error) {
	date := slots[domain.SlotPreferredDate]
	clock := slots[domain.SlotPreferredTime]
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unusable slot values %q %q", ErrTerminal, date, clock)
	}
	return t, nil
}
