package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	extractiveSummaryChars = 280
	extractiveDescPages    = 3
)

// Extractive is an offline Backend that summarizes by taking the leading
// sentences of each page. It needs no credentials and is deterministic.
type Extractive struct{}

// Complete answers from req.Pages, ignoring the prompt text.
func (Extractive) Complete(_ context.Context, req Request) (string, error) {
	switch req.Kind {
	case KindBatch:
		summaries := make([]string, len(req.Pages))
		for i, p := range req.Pages {
			summaries[i] = leadSentences(p.Content, extractiveSummaryChars)
			if summaries[i] == "" {
				summaries[i] = p.Title
			}
		}
		data, err := json.Marshal(map[string][]string{"summaries": summaries})
		if err != nil {
			return "", fmt.Errorf("encode summaries: %w", err)
		}
		return string(data), nil
	case KindDescription:
		parts := make([]string, 0, extractiveDescPages)
		for _, p := range req.Pages {
			if len(parts) == extractiveDescPages {
				break
			}
			if s := strings.TrimSpace(p.Summary); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", nil
		}
		return fmt.Sprintf("%s: %s", req.Site, strings.Join(parts, " ")), nil
	default:
		return "", fmt.Errorf("unsupported request kind %q", req.Kind)
	}
}

// leadSentences returns whole sentences from the start of text, up to max
// characters. A first sentence longer than max is cut at a word boundary.
func leadSentences(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxChars {
		return text
	}
	cut := -1
	for i, r := range text {
		if i >= maxChars {
			break
		}
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(text) || unicode.IsSpace(rune(text[i+1]))) {
			cut = i + 1
		}
	}
	if cut > 0 {
		return text[:cut]
	}
	if sp := strings.LastIndexByte(text[:maxChars], ' '); sp > 0 {
		return text[:sp] + "…"
	}
	end := maxChars
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end] + "…"
}
