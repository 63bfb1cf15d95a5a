package provider

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const maxPromptContentChars = 4000

const batchSystemPrompt = "You summarize web pages for a site directory. " +
	"Each summary is one or two plain sentences describing what the page offers a visitor. " +
	"You always answer with JSON only."

const descriptionSystemPrompt = "You write short descriptions of websites from summaries of their pages. " +
	"Answer with plain text only: two to four sentences, no lists, no markdown."

// BatchPrompt builds the user prompt asking for one summary per page.
func BatchPrompt(pages []summary.PageInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize each of the following %d pages.\n", len(pages))
	fmt.Fprintf(&b, "Respond with a JSON object of the form {\"summaries\": [\"...\"]} containing exactly %d strings, "+
		"one per page, in the order the pages are listed.\n", len(pages))
	for i, p := range pages {
		fmt.Fprintf(&b, "\n### Page %d\nURL: %s\nTitle: %s\nContent:\n%s\n", i+1, p.URL, p.Title, clip(p.Content, maxPromptContentChars))
	}
	return b.String()
}

// DescriptionPrompt builds the user prompt for a site-level description.
func DescriptionPrompt(site string, pages []summary.PageInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe the website %s based on these page summaries.\n", site)
	for _, p := range pages {
		fmt.Fprintf(&b, "\n- %s (%s): %s", p.Title, p.URL, p.Summary)
	}
	b.WriteString("\n")
	return b.String()
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
