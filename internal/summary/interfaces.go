package summary

import (
	"context"
	"time"

	"github.com/JakeFAU/site-summarizer/internal/stream"
)

// URLSource enumerates the pages of a site as a finite, single-pass stream.
type URLSource interface {
	ListURLs(ctx context.Context, site string) (stream.Iterator[string], error)
}

// Extractor fetches a URL and returns its title and text. Failures wrap
// ErrResourceUnavailable.
type Extractor interface {
	Extract(ctx context.Context, url string) (PageContent, error)
}

// Provider is a text-generation backend. GenerateBatchSummaries must return
// exactly one summary per input, in input order.
type Provider interface {
	Name() string
	GenerateBatchSummaries(ctx context.Context, pages []PageInput) ([]string, error)
	GenerateDescription(ctx context.Context, site string, pages []PageInput) (string, error)
}

// Fetcher retrieves one page for the extractor. The probe and the headless
// renderer both implement it.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector looks at a probe response and reports whether the page
// needs a browser render before its text can be summarized.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Publisher delivers run notifications and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher turns cache keys into object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock stamps run start and finish times.
type Clock interface {
	Now() time.Time
}

// IDGenerator allocates run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
