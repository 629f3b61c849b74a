// Package provider implements chat-model adapters over provider REST APIs.
//
// Each adapter keeps conversation history in its own wire schema. Callers
// treat turns as opaque json.RawMessage values and replay them verbatim on
// the next request, including across a suspend/resume boundary, so a run
// that started on one provider must finish on the same provider.
package provider

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoAPIKey is returned by adapter constructors when the API key is empty.
var ErrNoAPIKey = errors.New("provider API key is empty")

// ToolCall is one tool invocation requested by the model, normalized out of
// the provider's wire shape.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Reply is one assistant turn from the model.
type Reply struct {
	// Turn is the provider-shaped assistant message, ready to append to
	// history verbatim.
	Turn json.RawMessage

	// Text is the assistant's visible text, possibly empty when the turn
	// is pure tool calls.
	Text string

	ToolCalls []ToolCall
}

const maxErrorBodyChars = 300

// summarizeErrorBody extracts a human-readable message from a provider error
// body, falling back to a truncated copy of the raw body.
func summarizeErrorBody(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			return truncateChars(msg, maxErrorBodyChars)
		}
	}
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "(empty body)"
	}
	return truncateChars(raw, maxErrorBodyChars)
}

func truncateChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("BUG: provider turn marshal failed: " + err.Error())
	}
	return b
}
