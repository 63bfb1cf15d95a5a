package summary

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrResourceUnavailable marks content fetch failures (DNS, timeout,
	// non-2xx, TLS). It never escapes the extraction step.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrProviderUnavailable marks infrastructural generation failures
	// (network, non-2xx API responses). These count toward the breaker.
	ErrProviderUnavailable = errors.New("generation provider unavailable")
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL           string
	UseHeadless   bool
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// RobotsFallback is set when robots.txt could not be read and the
	// fetch proceeded as if everything were allowed.
	RobotsFallback string
}

// PageContent is what the extractor pulls out of a fetched document.
type PageContent struct {
	Title   string
	Content string
}

// PageInput is the view of a page handed to a generation provider.
type PageInput struct {
	URL     string
	Title   string
	Content string
	Summary string
}

// InputFromPage projects a page record into provider input.
func InputFromPage(p *Page) PageInput {
	s, _ := p.Summary()
	return PageInput{
		URL:     p.URL(),
		Title:   p.Title(),
		Content: p.Content(),
		Summary: s,
	}
}

// ProgressFunc is invoked after each batch with the running processed count
// and the expected total (the limit when one is set, otherwise processed).
type ProgressFunc func(processed, total int)
