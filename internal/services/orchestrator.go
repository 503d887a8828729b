// Package services – Orchestrator
//
// This file implements the polling orchestrator: on a fixed interval it pulls
// unread messages from the mail source, fans them out per conversation thread,
// and drives each through ConversationService. Messages of the same thread are
// handled strictly in arrival order on one goroutine; distinct threads run
// concurrently. A message is marked read only once its outcome is settled, so
// transient failures leave it unread for the next cycle to retry.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/otl-fi/email-assistant/internal/domain"
	"github.com/otl-fi/email-assistant/internal/engine"
	"github.com/otl-fi/email-assistant/internal/mail"
	"github.com/otl-fi/email-assistant/internal/repo"
)

var (
	// inboundMsgs counts inbound messages by settled outcome.
	inboundMsgs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_inbound_messages_total",
			Help: "Total inbound messages by processing outcome.",
		},
		[]string{"outcome"},
	)

	// repliesSent counts outbound replies actually handed to the sender.
	repliesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_replies_sent_total",
			Help: "Total replies sent.",
		},
	)

	// stageReached counts conversations entering each stage.
	stageReached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_stage_transitions_total",
			Help: "Total stage transitions by resulting stage.",
		},
		[]string{"stage"},
	)

	// pollDuration records one full poll cycle in seconds.
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_poll_duration_seconds",
			Help:    "Duration of one inbox poll cycle in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(inboundMsgs, repliesSent, stageReached, pollDuration)
}

const (
	outcomeProcessed = "processed"
	outcomeSkipped   = "skipped"
	outcomeTransient = "transient"
	outcomeError     = "error"
)

// Orchestrator runs the inbox polling loop.
type Orchestrator struct {
	Source  mail.Source
	Sender  mail.Sender
	Service *ConversationService

	// Interval between polls; NewOrchestrator defaults it to a minute.
	Interval time.Duration
	// MaxConcurrentThreads caps simultaneously processed conversation
	// threads within one cycle.
	MaxConcurrentThreads int
}

// NewOrchestrator wires an orchestrator with defaults applied.
func NewOrchestrator(src mail.Source, snd mail.Sender, svc *ConversationService) *Orchestrator {
	return &Orchestrator{
		Source:               src,
		Sender:               snd,
		Service:              svc,
		Interval:             time.Minute,
		MaxConcurrentThreads: 4,
	}
}

// Run polls until ctx is canceled. The first cycle starts immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()

	for {
		o.Poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle: fetch unread, process per thread, send replies, mark
// read. Failures are logged and counted; the cycle never aborts the loop.
func (o *Orchestrator) Poll(ctx context.Context) {
	start := time.Now()
	defer func() { pollDuration.Observe(time.Since(start).Seconds()) }()

	msgs, err := o.Source.Unread(ctx)
	if err != nil {
		log.Error().Err(err).Msg("inbox poll failed")
		return
	}
	if len(msgs) == 0 {
		return
	}
	log.Info().Int("count", len(msgs)).Msg("processing unread messages")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.MaxConcurrentThreads)
	for _, batch := range groupByThread(msgs) {
		batch := batch
		g.Go(func() error {
			o.processThread(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()
}

// processThread handles one thread's messages oldest first. A transient
// failure stops the batch so later messages keep their order for the retry.
func (o *Orchestrator) processThread(ctx context.Context, batch []mail.Message) {
	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		if !o.processOne(ctx, msg) {
			return
		}
	}
}

// processOne settles a single message and reports whether the thread may
// continue with the next one.
func (o *Orchestrator) processOne(ctx context.Context, msg mail.Message) bool {
	res, err := o.Service.ProcessMessage(ctx, msg)
	switch {
	case err == nil:
		inboundMsgs.WithLabelValues(outcomeProcessed).Inc()
		stageReached.WithLabelValues(string(res.Stage)).Inc()

	case errors.Is(err, ErrMessageSkipped), errors.Is(err, ErrEmptyMessage):
		inboundMsgs.WithLabelValues(outcomeSkipped).Inc()
		o.markRead(ctx, msg.ID)
		return true

	case errors.Is(err, engine.ErrUnavailable),
		errors.Is(err, repo.ErrStoreUnavailable),
		errors.Is(err, ErrConflictRetriesExhausted):
		inboundMsgs.WithLabelValues(outcomeTransient).Inc()
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("transient failure, message stays unread")
		return false

	default:
		inboundMsgs.WithLabelValues(outcomeError).Inc()
		log.Error().Err(err).Str("message_id", msg.ID).Msg("message processing failed")
		return false
	}

	if res.Reply != nil {
		if err := o.Sender.Send(ctx, *res.Reply); err != nil {
			// State is already saved; leave the message unread and let the
			// next cycle's skip path mark it read.
			log.Error().Err(err).Str("message_id", msg.ID).
				Str("conversation_id", res.ConversationID).Msg("reply send failed")
			return false
		}
		repliesSent.Inc()
	}

	o.markRead(ctx, msg.ID)

	ev := log.Info().Str("message_id", msg.ID).
		Str("conversation_id", res.ConversationID).
		Str("stage", string(res.Stage))
	if res.Stage == domain.StageBooked {
		ev = ev.Bool("booked", true)
	}
	ev.Msg("message processed")
	return true
}

func (o *Orchestrator) markRead(ctx context.Context, id string) {
	if err := o.Source.MarkRead(ctx, id); err != nil {
		log.Warn().Err(err).Str("message_id", id).Msg("mark read failed")
	}
}

// groupByThread buckets messages by conversation identity and orders each
// bucket oldest first. Bucket order is stable for deterministic tests.
func groupByThread(msgs []mail.Message) [][]mail.Message {
	byKey := make(map[string][]mail.Message)
	var keys []string
	for _, m := range msgs {
		k := domain.ThreadKey(m.Subject, m.From)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], m)
	}
	sort.Strings(keys)

	out := make([][]mail.Message, 0, len(keys))
	for _, k := range keys {
		batch := byKey[k]
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].ReceivedAt.Before(batch[j].ReceivedAt)
		})
		out = append(out, batch)
	}
	return out
}
