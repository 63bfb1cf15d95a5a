// Package source enumerates the pages of a site for the processor.
package source

import (
	"context"

	"github.com/JakeFAU/site-summarizer/internal/stream"
)

// Static yields a fixed list of URLs regardless of the site requested.
type Static struct {
	urls []string
}

// NewStatic copies urls into a Static source.
func NewStatic(urls ...string) *Static {
	return &Static{urls: append([]string(nil), urls...)}
}

// ListURLs returns a fresh single-pass stream over the configured URLs.
func (s *Static) ListURLs(_ context.Context, _ string) (stream.Iterator[string], error) {
	return stream.FromSlice(s.urls), nil
}
