// Package services – ConversationService
//
// This file implements ConversationService, the application-level component
// that processes one inbound email at a time: it resolves the conversation
// identity, guards against replays, runs the engine and state machine, invokes
// the booking adapter when the machine asks for it, and persists the result as
// one atomic versioned write. Replies are returned to the caller; the service
// itself never touches the mailbox.
//
// Observability: ProcessMessage is OpenTelemetry-instrumented; spans carry
// the conversation identity and resulting stage.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/otl-fi/email-assistant/internal/booking"
	"github.com/otl-fi/email-assistant/internal/domain"
	"github.com/otl-fi/email-assistant/internal/engine"
	"github.com/otl-fi/email-assistant/internal/mail"
	"github.com/otl-fi/email-assistant/internal/repo"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxConflictRetries bounds the optimistic-concurrency recompute loop.
const maxConflictRetries = 3

// fallbackReply is sent when the engine returns undecodable output. The
// conversation still advances so the customer is never left without an answer.
const fallbackReply = "Hi,\n\nThanks for your message! I want to make sure I get this right. Could you let me know what day and time would suit you for a meeting?\n\nBest regards,\nOlli's Personal Assistant"

// ProcessResult reports what one inbound message did: the conversation it
// landed in, the stage after the transition, and the reply to send, if any.
type ProcessResult struct {
	ConversationID string
	Stage          domain.Stage
	Reply          *mail.Reply
}

// ConversationService drives conversations from inbound messages.
type ConversationService struct {
	DB      *gorm.DB
	Engine  engine.Engine
	Booker  booking.Booker
	Machine *Machine

	// Avail is optional; when set, upcoming availability is offered to the
	// engine so drafts can suggest concrete times.
	Avail booking.AvailabilityLister

	// Location interprets customer-provided dates and times.
	Location *time.Location
}

// NewConversationService wires a service with defaults applied.
func NewConversationService(db *gorm.DB, eng engine.Engine, bk booking.Booker, m *Machine) *ConversationService {
	loc := m.Policy.Location
	if loc == nil {
		loc = time.UTC
	}
	return &ConversationService{DB: db, Engine: eng, Booker: bk, Machine: m, Location: loc}
}

// ProcessMessage folds one inbound message into its conversation and returns
// the reply to send. It is idempotent per message ID: replays return
// ErrMessageSkipped with no reply and no state change. A nil error with a nil
// Reply means the message was absorbed without an outbound answer.
func (s *ConversationService) ProcessMessage(ctx context.Context, msg mail.Message) (*ProcessResult, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ProcessMessage",
		trace.WithAttributes(attribute.String("message.id", msg.ID)),
	)
	defer span.End()

	done, err := repo.IsProcessed(ctx, s.DB, msg.ID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: message %s already processed", ErrMessageSkipped, msg.ID)
	}

	if strings.TrimSpace(msg.Body) == "" {
		// Nothing to classify; remember the ID so it is never retried.
		if err := repo.MarkProcessed(ctx, s.DB, msg.ID, ""); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: message %s", ErrEmptyMessage, msg.ID)
	}

	key := domain.ThreadKey(msg.Subject, msg.From)
	span.SetAttributes(attribute.String("conversation.thread_key", key))

	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		res, err := s.processOnce(ctx, key, msg)
		if errors.Is(err, repo.ErrVersionConflict) {
			log.Warn().Str("message_id", msg.ID).Str("thread_key", key).
				Int("attempt", attempt+1).Msg("conversation version conflict, recomputing")
			continue
		}
		if err != nil {
			return nil, err
		}
		span.SetAttributes(
			attribute.String("conversation.id", res.ConversationID),
			attribute.String("conversation.stage", string(res.Stage)),
		)
		return res, nil
	}
	return nil, fmt.Errorf("%w: message %s", ErrConflictRetriesExhausted, msg.ID)
}

// processOnce runs a single read-compute-write pass. A version conflict on
// the final put is returned verbatim so the caller can recompute against the
// fresh record.
func (s *ConversationService) processOnce(ctx context.Context, key string, msg mail.Message) (*ProcessResult, error) {
	rec, fresh, err := s.loadOrCreate(ctx, key, msg)
	if err != nil {
		return nil, err
	}

	// A crash between put and mark leaves the message folded but unmarked;
	// the cursor closes that window without replying twice.
	if !fresh && rec.LastProcessedMessageID == msg.ID {
		if err := repo.MarkProcessed(ctx, s.DB, msg.ID, rec.ID); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: message %s already folded into %s", ErrMessageSkipped, msg.ID, rec.ID)
	}

	var (
		next domain.Conversation
		act  Action
	)
	if !fresh && rec.Terminal() {
		next, act = s.Machine.FoldAudit(*rec, msg)
	} else {
		next, act, err = s.advance(ctx, rec, msg)
		if err != nil {
			return nil, err
		}
	}

	if err := repo.PutConversation(ctx, s.DB, &next); err != nil {
		return nil, err
	}

	result := &ProcessResult{ConversationID: next.ID, Stage: next.Stage}
	if err := repo.MarkProcessed(ctx, s.DB, msg.ID, next.ID); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Another pass won the race; it owns the reply.
			return nil, fmt.Errorf("%w: message %s marked concurrently", ErrMessageSkipped, msg.ID)
		}
		// State is saved; suppress the reply and let the next poll finish
		// the marking via the cursor path above.
		log.Error().Err(err).Str("message_id", msg.ID).Msg("mark processed failed after put")
		return result, nil
	}

	if act.Reply != "" {
		result.Reply = &mail.Reply{
			To:       next.CounterpartEmail,
			Subject:  replySubject(msg.Subject),
			Body:     act.Reply,
			ThreadID: msg.ThreadID,
		}
	}
	return result, nil
}

// advance classifies the message and drives the machine, including the
// synchronous booking round-trip when the machine requests one.
func (s *ConversationService) advance(ctx context.Context, rec *domain.Conversation, msg mail.Message) (domain.Conversation, Action, error) {
	res, err := s.classify(ctx, rec, msg)
	if err != nil {
		return domain.Conversation{}, Action{}, err
	}

	next, act := s.Machine.Advance(*rec, msg, res)
	if !act.Book {
		return next, act, nil
	}

	conf, berr := s.book(ctx, &next, msg)
	next, act = s.Machine.ResolveBooking(next, conf, berr)
	return next, act, nil
}

// classify asks the engine for intent, slots, and a draft. Transient engine
// errors propagate so the message stays unread and is retried; undecodable
// output degrades to a canned reply.
func (s *ConversationService) classify(ctx context.Context, rec *domain.Conversation, msg mail.Message) (*engine.Result, error) {
	hist := make([]domain.Turn, len(rec.Turns), len(rec.Turns)+1)
	copy(hist, rec.Turns)
	hist = append(hist, domain.Turn{
		Seq: len(hist) + 1, Role: domain.RoleCustomer, Content: msg.Body,
	})

	ec := engine.Context{
		History:     hist,
		Slots:       rec.Slots,
		Stage:       rec.Stage,
		Counterpart: rec.CounterpartName,
		BookingURL:  s.Machine.Policy.BookingURL,
	}
	if s.Avail != nil && !rec.Stage.Terminal() {
		slots, err := s.Avail.Availability(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("availability lookup failed, drafting without it")
		} else {
			ec.Availability = slots
		}
	}

	res, err := s.Engine.ClassifyAndDraft(ctx, ec)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return nil, err
		}
		log.Error().Err(err).Str("message_id", msg.ID).Msg("engine output unusable, sending fallback")
		return &engine.Result{Intent: domain.IntentUnclear, Reply: fallbackReply}, nil
	}
	return res, nil
}

// book performs the booking call for a record that the machine moved into
// the booking stage. The idempotency key ties the attempt to this exact
// message so adapter-level retries on the provider side stay safe.
func (s *ConversationService) book(ctx context.Context, rec *domain.Conversation, msg mail.Message) (*booking.Confirmation, error) {
	start, err := booking.StartFromSlots(rec.Slots, s.Location)
	if err != nil {
		return nil, err
	}
	return s.Booker.Book(ctx, booking.Request{
		Start:          start,
		AttendeeEmail:  rec.Slots[domain.SlotAttendeeEmail],
		AttendeeName:   rec.CounterpartName,
		Language:       rec.Language,
		Notes:          "Booked by email assistant from thread " + rec.ThreadKey,
		IdempotencyKey: rec.ID + "-" + msg.ID,
	})
}

// loadOrCreate resolves the record the message belongs to. fresh reports
// that no stored conversation exists yet for this identity; the returned
// skeleton has version 0 and is created on the first put.
func (s *ConversationService) loadOrCreate(ctx context.Context, key string, msg mail.Message) (*domain.Conversation, bool, error) {
	rec, err := repo.LatestConversation(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		c := NewConversation(key, 1, msg)
		return &c, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	cooldown := s.Machine.Policy.TerminalCooldown
	if rec.Terminal() && cooldown > 0 && time.Since(rec.UpdatedAt) >= cooldown &&
		rec.LastProcessedMessageID != msg.ID {
		c := NewConversation(key, rec.Seq+1, msg)
		return &c, true, nil
	}
	return rec, false, nil
}

// replySubject prefixes the subject for the outbound answer, once.
func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
