package summary

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrFailedPage is returned when a summary is attached to a failed page.
	ErrFailedPage = errors.New("page is in the failed state")
	// ErrSummaryAlreadySet is returned when a page is summarized twice.
	ErrSummaryAlreadySet = errors.New("page summary already set")
)

// Page is the processing outcome for one URL. It is either a success (title
// and content present, summary attached at most once) or a failure (error
// text present, nothing else). The two constructors are the only way to
// build one.
type Page struct {
	url     string
	title   string
	content string
	summary *string
	errText string
	failed  bool
}

// NewPage builds a successful page record.
func NewPage(url, title, content string) *Page {
	return &Page{url: url, title: title, content: content}
}

// NewFailedPage builds a failed page record. A nil err still yields a
// failure with a generic message.
func NewFailedPage(url string, err error) *Page {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	return &Page{url: url, errText: text, failed: true}
}

// URL returns the page address.
func (p *Page) URL() string { return p.url }

// Title returns the extracted (or cached) title.
func (p *Page) Title() string { return p.title }

// Content returns the raw extracted text.
func (p *Page) Content() string { return p.content }

// Failed reports whether the page is a failure record.
func (p *Page) Failed() bool { return p.failed }

// Summarized reports whether a summary has been attached.
func (p *Page) Summarized() bool { return p.summary != nil }

// Summary returns the summary and whether one is set.
func (p *Page) Summary() (string, bool) {
	if p.summary == nil {
		return "", false
	}
	return *p.summary, true
}

// Err returns the failure text and whether the page failed.
func (p *Page) Err() (string, bool) {
	return p.errText, p.failed
}

// SetSummary attaches a generated summary. It may be called once, and only
// on a successful page.
func (p *Page) SetSummary(summary string) error {
	if p.failed {
		return ErrFailedPage
	}
	if p.summary != nil {
		return ErrSummaryAlreadySet
	}
	p.summary = &summary
	return nil
}

// ApplyCached attaches a summary read from the cache. A non-empty cached
// title replaces the freshly extracted one.
func (p *Page) ApplyCached(title, summary string) error {
	if err := p.SetSummary(summary); err != nil {
		return err
	}
	if title != "" {
		p.title = title
	}
	return nil
}

type pageJSON struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Summary *string `json:"summary,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// MarshalJSON renders the record for run reports.
func (p *Page) MarshalJSON() ([]byte, error) {
	out := pageJSON{
		URL:     p.url,
		Title:   p.title,
		Content: p.content,
		Summary: p.summary,
		Error:   p.errText,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal page: %w", err)
	}
	return data, nil
}

// Successful filters pages down to the non-failed ones, preserving order.
func Successful(pages []*Page) []*Page {
	out := make([]*Page, 0, len(pages))
	for _, p := range pages {
		if p != nil && !p.failed {
			out = append(out, p)
		}
	}
	return out
}
