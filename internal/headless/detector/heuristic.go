// Package detector decides when a probe fetch is too thin to summarize and
// the page should be rendered headlessly instead.
package detector

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const defaultMinText = 400

// mountSelectors match the empty containers client-side frameworks render
// into.
var mountSelectors = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
	"[data-v-app]",
}

var jsRequiredPhrases = []string{
	"enable javascript",
	"javascript is required",
	"requires javascript",
	"javascript is disabled",
	"turn on javascript",
}

// Heuristic promotes pages whose server-rendered HTML carries too little
// readable text to summarize while showing signs of client-side rendering.
type Heuristic struct {
	MinTextChars int
}

// NewHeuristic creates a detector. A non-positive threshold uses the default.
func NewHeuristic(minTextChars int) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = defaultMinText
	}
	return &Heuristic{MinTextChars: minTextChars}
}

// ShouldPromote reports whether the probe should be re-fetched headlessly.
// Only successful HTML probes qualify.
func (h *Heuristic) ShouldPromote(resp summary.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless || !isHTML(resp) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	asksForJS := noscriptAsksForJS(doc)
	doc.Find("script,style,noscript,template").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if utf8.RuneCountInString(text) >= h.MinTextChars {
		return false
	}
	return text == "" || asksForJS || hasMountPoint(doc) || scriptHeavy(resp.Body)
}

func isHTML(resp summary.FetchResponse) bool {
	ct := resp.Headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func noscriptAsksForJS(doc *goquery.Document) bool {
	found := false
	doc.Find("noscript").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		lower := strings.ToLower(s.Text())
		for _, phrase := range jsRequiredPhrases {
			if strings.Contains(lower, phrase) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func hasMountPoint(doc *goquery.Document) bool {
	for _, sel := range mountSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether inline and linked scripts make up at least a
// quarter of the raw document.
func scriptHeavy(body []byte) bool {
	lower := bytes.ToLower(body)
	covered := 0
	rest := lower
	for {
		start := bytes.Index(rest, []byte("<script"))
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := bytes.Index(rest, []byte("</script>"))
		if end < 0 {
			covered += len(rest)
			break
		}
		end += len("</script>")
		covered += end
		rest = rest[end:]
	}
	return covered*4 >= len(lower) && covered > 0
}
