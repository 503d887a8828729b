package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/otl-fi/email-assistant/internal/domain"
)

// ParseResult decodes one model response into a Result. Fenced output is
// unwrapped and malformed JSON goes through the jsonrepair library before
// decoding fails for good. Unknown intent labels degrade to "unclear"
// rather than erroring; an empty reply is an error because the customer
// must never be left without a response.
func ParseResult(raw string) (*Result, error) {
	payload := stripFences(raw)

	var wire struct {
		Intent   string              `json:"intent"`
		Language string              `json:"language"`
		Slots    []domain.SlotUpdate `json:"slots"`
		Reply    string              `json:"reply"`
	}
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(payload)
		if repErr != nil {
			return nil, fmt.Errorf("%w: undecodable output: %v", ErrEngine, err)
		}
		if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
			return nil, fmt.Errorf("%w: undecodable output after repair: %v", ErrEngine, err)
		}
	}

	if strings.TrimSpace(wire.Reply) == "" {
		return nil, fmt.Errorf("%w: empty reply in output", ErrEngine)
	}

	return &Result{
		Intent:   domain.ParseIntent(strings.ToLower(strings.TrimSpace(wire.Intent))),
		Slots:    wire.Slots,
		Reply:    strings.TrimSpace(wire.Reply),
		Language: strings.ToLower(strings.TrimSpace(wire.Language)),
	}, nil
}

// stripFences removes markdown code fences and a leading "json" tag, which
// models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}
