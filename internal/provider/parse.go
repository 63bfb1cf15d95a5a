package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-summarizer/internal/resilience"
)

type summariesEnvelope struct {
	Summaries []json.RawMessage `json:"summaries"`
}

type descriptionEnvelope struct {
	Description string `json:"description"`
}

// ParseSummaries decodes a batch response. Both {"summaries": [...]} and a
// bare JSON array are accepted, optionally wrapped in a code fence.
func ParseSummaries(raw string) ([]string, *resilience.ValidationError) {
	text := stripFences(raw)
	if text == "" {
		return nil, resilience.Empty(raw)
	}

	var items []json.RawMessage
	var envelope summariesEnvelope
	switch {
	case strings.HasPrefix(text, "{"):
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			return nil, resilience.Unparseable(raw, err)
		}
		if envelope.Summaries == nil {
			return nil, resilience.Unparseable(raw, fmt.Errorf(`missing "summaries" array`))
		}
		items = envelope.Summaries
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, resilience.Unparseable(raw, err)
		}
	default:
		return nil, resilience.Unparseable(raw, nil)
	}

	out := make([]string, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &out[i]); err != nil {
			return nil, resilience.MalformedField(i, string(item), "item is not a string")
		}
		out[i] = strings.TrimSpace(out[i])
	}
	return out, nil
}

// NonBlankItems rejects any blank summary.
func NonBlankItems(items []string) *resilience.ValidationError {
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			return resilience.MalformedField(i, item, "summary is blank")
		}
	}
	return nil
}

// ExpectCount rejects a list whose length differs from n.
func ExpectCount(n int) resilience.Validator[[]string] {
	return func(items []string) *resilience.ValidationError {
		if len(items) != n {
			return resilience.CountMismatch(n, len(items))
		}
		return nil
	}
}

// ParseDescription normalizes a description response. Plain text is the
// expected shape; a {"description": "..."} object is also accepted.
func ParseDescription(raw string) (string, *resilience.ValidationError) {
	text := stripFences(raw)
	if strings.HasPrefix(text, "{") {
		var envelope descriptionEnvelope
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			return "", resilience.Unparseable(raw, err)
		}
		text = strings.TrimSpace(envelope.Description)
	}
	text = strings.TrimSpace(strings.Trim(text, `"`))
	if text == "" {
		return "", resilience.Empty(raw)
	}
	return text, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
