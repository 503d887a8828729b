// Package engine – Gemini implementation of the Engine interface, via
// langchaingo.
//
// The model is asked for a single JSON object (see prompt.txt); output goes
// through a repair step before decoding because models occasionally emit
// fenced or slightly malformed JSON.
package engine

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"golang.org/x/time/rate"

	"github.com/otl-fi/email-assistant/internal/domain"
)

//go:embed prompt.txt
var promptTemplate string

const defaultCallTimeout = 45 * time.Second

// Gemini drafts replies with a Google Gemini model.
type Gemini struct {
	llm     llms.Model
	limiter *rate.Limiter

	// CallTimeout bounds one model invocation.
	CallTimeout time.Duration
	// BookingURL is surfaced to the model for self-serve customers.
	BookingURL string
	// Timezone label shown next to offered slots.
	Timezone string
}

// NewGemini initializes the model client. rps caps model calls per second
// across all conversations (burst 1); zero disables limiting.
func NewGemini(ctx context.Context, apiKey, model string, rps float64) (*Gemini, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: init gemini: %v", ErrUnavailable, err)
	}
	return NewGeminiWithModel(llm, rps), nil
}

// NewGeminiWithModel wraps an existing llms.Model. Used by tests.
func NewGeminiWithModel(llm llms.Model, rps float64) *Gemini {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Gemini{
		llm:         llm,
		limiter:     rate.NewLimiter(limit, 1),
		CallTimeout: defaultCallTimeout,
		Timezone:    "Europe/Helsinki",
	}
}

// ClassifyAndDraft renders the prompt, calls the model once within the
// configured timeout, and decodes the structured result.
func (g *Gemini) ClassifyAndDraft(ctx context.Context, conv Context) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.CallTimeout)
	defer cancel()

	raw, err := llms.GenerateFromSinglePrompt(ctx, g.llm, g.buildPrompt(conv))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ParseResult(raw)
}

// buildPrompt substitutes conversation state into the embedded template.
func (g *Gemini) buildPrompt(conv Context) string {
	values := map[string]string{
		"stage":        string(conv.Stage),
		"counterpart":  orUnknown(conv.Counterpart),
		"slots":        formatSlots(conv.Slots),
		"availability": g.formatAvailability(conv.Availability),
		"booking_url":  orUnknown(conv.BookingURL),
		"history":      formatHistory(conv.History),
	}
	prompt := promptTemplate
	for key, value := range values {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", value)
	}
	return prompt
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}

func formatSlots(slots domain.Slots) string {
	var b strings.Builder
	for _, name := range domain.RequiredSlots {
		v := slots[name]
		if v == "" {
			v = "(missing)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *Gemini) formatAvailability(slots []time.Time) string {
	if len(slots) == 0 {
		return "(availability not loaded; do not promise specific times)"
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		loc = time.UTC
	}
	const maxShown = 10
	var b strings.Builder
	for i, s := range slots {
		if i == maxShown {
			break
		}
		fmt.Fprintf(&b, "- %s\n", s.In(loc).Format("Mon 2 Jan 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(turns []domain.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, strings.TrimSpace(t.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}
