package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent types the issue responder accepts from the model.
const (
	IntentAnswer        = "answer"
	IntentSuggestPrompt = "suggest_prompt"
)

// Intent is the structured reply the issue-comment protocol asks the model
// to produce: exactly one JSON object with a type and the content to show.
type Intent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// StripCodeFence removes at most one fenced code-block wrapper around s.
// The model sometimes wraps its JSON in ```json fences despite being told
// not to; everything past that single wrapper is left for the strict parser.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	// Drop the opening fence line (``` or ```json).
	rest := trimmed
	if idx := strings.Index(rest, "\n"); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		rest = strings.TrimPrefix(rest, "```json")
		rest = strings.TrimPrefix(rest, "```")
	}

	// Drop the closing fence if present.
	rest = strings.TrimSpace(rest)
	if strings.HasSuffix(rest, "```") {
		rest = rest[:len(rest)-3]
	}

	return strings.TrimSpace(rest)
}

// ParseIntent strips a single code-fence wrapper and then parses the reply
// as strict JSON. Any parse failure, unknown type, or missing field is an
// error; there is no further leniency.
func ParseIntent(raw string) (*Intent, error) {
	cleaned := StripCodeFence(raw)

	var intent Intent
	if err := json.Unmarshal([]byte(cleaned), &intent); err != nil {
		return nil, fmt.Errorf("failed to parse intent JSON: %w", err)
	}

	if intent.Type != IntentAnswer && intent.Type != IntentSuggestPrompt {
		return nil, fmt.Errorf("unknown response type: %q", intent.Type)
	}
	if intent.Content == "" {
		return nil, fmt.Errorf("intent is missing content")
	}

	return &intent, nil
}
