// Package services – conversation state machine.
//
// The machine is a pure function over conversation records: it receives the
// current record (or a fresh skeleton), the new inbound message, and the
// engine's classification, and returns a new record plus the side effects
// the caller must execute. It performs no I/O and never mutates its inputs;
// the booking adapter is invoked by the caller between Advance and
// ResolveBooking, within the same processing step.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/otl-fi/email-assistant/internal/booking"
	"github.com/otl-fi/email-assistant/internal/domain"
	"github.com/otl-fi/email-assistant/internal/engine"
	"github.com/otl-fi/email-assistant/internal/mail"
)

// Policy configures the behavioral knobs of the state machine.
type Policy struct {
	// MaxCustomerTurns abandons a conversation whose customer turn count
	// exceeds the ceiling; 0 disables the ceiling.
	MaxCustomerTurns int
	// MaxBookingRetries is how many retryable booking failures are
	// tolerated before the conversation fails for good.
	MaxBookingRetries int
	// TerminalCooldown starts a fresh conversation when a message arrives
	// this long after a terminal stage; 0 means terminal conversations only
	// absorb messages into history.
	TerminalCooldown time.Duration
	// BookingURL is offered as the self-serve alternative in failure replies.
	BookingURL string
	// Location renders confirmed times in replies.
	Location *time.Location
}

// Action describes the side effects the caller must execute after a
// transition: send the drafted reply (when non-empty) and, for Advance only,
// invoke the booking adapter and feed the outcome to ResolveBooking.
type Action struct {
	Reply string
	Book  bool
}

// Machine advances conversations. The zero value is usable; NewMachine
// applies the defaults.
type Machine struct {
	Policy Policy
}

// NewMachine builds a machine with sane defaults for unset policy fields.
func NewMachine(p Policy) *Machine {
	if p.MaxBookingRetries <= 0 {
		p.MaxBookingRetries = 2
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &Machine{Policy: p}
}

// NewConversation builds the skeleton record for a never-before-seen
// identity. The attendee email slot is seeded from the sender address; the
// record's version stays 0 until Advance folds the first message in.
func NewConversation(threadKey string, seq int, msg mail.Message) domain.Conversation {
	addr := domain.NormalizeAddress(msg.From)
	return domain.Conversation{
		ID:               domain.ConversationID(threadKey, seq),
		ThreadKey:        threadKey,
		Seq:              seq,
		CounterpartEmail: addr,
		CounterpartName:  msg.FromName,
		Subject:          msg.Subject,
		Stage:            domain.StageGreeting,
		Slots:            domain.Slots{domain.SlotAttendeeEmail: addr},
	}
}

// Advance folds one inbound message into the conversation.
//
// The returned record has the message appended to history, slot updates
// applied, the stage recomputed, the idempotency cursor set, and the version
// incremented — ready for a single atomic put. When Action.Book is true the
// record is mid-step (stage "booking", no reply yet): the caller must invoke
// the booking adapter and finish with ResolveBooking before persisting.
func (m *Machine) Advance(current domain.Conversation, msg mail.Message, res *engine.Result) (domain.Conversation, Action) {
	rec := m.fold(current, msg)

	if res.Language != "" {
		rec.Language = res.Language
	}

	slots := rec.Slots.Apply(res.Slots)
	// An explicit change of mind may clear a slot without providing a new
	// value; Apply ignores empty values, so handle the clearing here.
	if res.Intent == domain.IntentChangeDetails {
		for _, u := range res.Slots {
			if u.Correction && u.Value == "" {
				delete(slots, u.Name)
			}
		}
	}
	rec.Slots = slots

	switch {
	case res.Intent == domain.IntentEndConversation:
		rec.Stage = domain.StageAbandoned
	case m.Policy.MaxCustomerTurns > 0 && rec.CustomerTurns() > m.Policy.MaxCustomerTurns:
		rec.Stage = domain.StageAbandoned
	default:
		rec.Stage = m.nextStage(rec, res)
	}

	if rec.Stage == domain.StageBooking {
		// Reply is drafted by ResolveBooking once the outcome is known.
		return rec, Action{Book: true}
	}
	return m.reply(rec, res.Reply)
}

// FoldAudit absorbs a message arriving after a terminal stage: history and
// the idempotency cursor advance, nothing else changes and no reply is sent.
func (m *Machine) FoldAudit(current domain.Conversation, msg mail.Message) (domain.Conversation, Action) {
	return m.fold(current, msg), Action{}
}

// ResolveBooking finishes a processing step whose Advance requested a
// booking. Exactly three transitions exist out of the booking stage:
// success, retryable failure back to confirming, terminal failure.
func (m *Machine) ResolveBooking(rec domain.Conversation, conf *booking.Confirmation, err error) (domain.Conversation, Action) {
	switch {
	case err == nil:
		rec.Stage = domain.StageBooked
		rec.BookingRef = conf.Reference
		return m.reply(rec, m.confirmationText(rec, conf))

	case isRetryable(err):
		rec.BookingFailures++
		if rec.BookingFailures > m.Policy.MaxBookingRetries {
			rec.Stage = domain.StageFailed
			return m.reply(rec, m.failureText(rec))
		}
		rec.Stage = domain.StageConfirming
		return m.reply(rec, m.retryText(rec))

	default:
		rec.Stage = domain.StageFailed
		return m.reply(rec, m.failureText(rec))
	}
}

// fold returns a copy of current with the customer message appended and the
// idempotency cursor advanced.
func (m *Machine) fold(current domain.Conversation, msg mail.Message) domain.Conversation {
	rec := current
	rec.Slots = current.Slots.Clone()
	rec.Turns = make([]domain.Turn, len(current.Turns), len(current.Turns)+2)
	copy(rec.Turns, current.Turns)

	rec.Turns = append(rec.Turns, domain.Turn{
		Seq:             len(rec.Turns) + 1,
		Role:            domain.RoleCustomer,
		Content:         msg.Body,
		SourceMessageID: msg.ID,
		CreatedAt:       msg.ReceivedAt,
	})
	if rec.CounterpartName == "" && msg.FromName != "" {
		rec.CounterpartName = msg.FromName
	}
	rec.LastProcessedMessageID = msg.ID
	rec.Version++
	return rec
}

// nextStage implements the non-terminal transitions.
func (m *Machine) nextStage(rec domain.Conversation, res *engine.Result) domain.Stage {
	switch rec.Stage {
	case domain.StageGreeting, domain.StageGatheringInfo:
		if res.Intent == domain.IntentUnclear || res.Intent == domain.IntentGreeting ||
			res.Intent == domain.IntentQuestion {
			// Clarifications and questions make no stage progress on their
			// own, but freshly completed slots still do.
			if rec.Slots.Complete() {
				return domain.StageConfirming
			}
			if rec.Stage == domain.StageGreeting {
				return domain.StageGreeting
			}
			return domain.StageGatheringInfo
		}
		if rec.Slots.Complete() {
			return domain.StageConfirming
		}
		return domain.StageGatheringInfo

	case domain.StageConfirming:
		if res.Intent == domain.IntentConfirm {
			return domain.StageBooking
		}
		if res.Intent == domain.IntentChangeDetails && !rec.Slots.Complete() {
			return domain.StageGatheringInfo
		}
		return domain.StageConfirming
	}
	return rec.Stage
}

// reply appends the assistant turn and returns the outbound action.
func (m *Machine) reply(rec domain.Conversation, text string) (domain.Conversation, Action) {
	if text == "" {
		return rec, Action{}
	}
	rec.Turns = append(rec.Turns, domain.Turn{
		Seq:       len(rec.Turns) + 1,
		Role:      domain.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})
	return rec, Action{Reply: text}
}

func (m *Machine) confirmationText(rec domain.Conversation, conf *booking.Confirmation) string {
	greeting := "Hi"
	if rec.CounterpartName != "" {
		greeting = "Hi " + rec.CounterpartName
	}
	when := conf.Start.In(m.Policy.Location).Format("Monday 2 January 2006 at 15:04")
	return fmt.Sprintf("%s,\n\nYour meeting has been booked for %s (reference %s). You will receive a confirmation email shortly.\n\nBest regards,\nOlli's Personal Assistant",
		greeting, when, conf.Reference)
}

func (m *Machine) retryText(rec domain.Conversation) string {
	greeting := "Hi"
	if rec.CounterpartName != "" {
		greeting = "Hi " + rec.CounterpartName
	}
	return fmt.Sprintf("%s,\n\nI'm sorry — I couldn't complete the booking just now. Could you reply once more to confirm and I'll try again?\n\nBest regards,\nOlli's Personal Assistant", greeting)
}

func (m *Machine) failureText(rec domain.Conversation) string {
	greeting := "Hi"
	if rec.CounterpartName != "" {
		greeting = "Hi " + rec.CounterpartName
	}
	alt := ""
	if m.Policy.BookingURL != "" {
		alt = fmt.Sprintf(" You can also pick a time directly at %s.", m.Policy.BookingURL)
	}
	return fmt.Sprintf("%s,\n\nI'm sorry — I wasn't able to book the meeting.%s Someone from the team will follow up with you personally.\n\nBest regards,\nOlli's Personal Assistant", greeting, alt)
}

// isRetryable classifies a booking adapter error.
func isRetryable(err error) bool {
	return errors.Is(err, booking.ErrRetryable)
}
