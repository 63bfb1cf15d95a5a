package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelector matches elements whose text never belongs in a summary.
const noiseSelector = "script,style,noscript,template,svg,iframe,nav,header,footer,aside,form"

// blockSelector matches elements that carry readable prose.
const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,blockquote,pre,td,dd,dt,figcaption"

// Parse pulls the title and readable text out of an HTML document. Text is
// taken from <main> or <article> when present, otherwise from <body>, and
// truncated to maxChars runes when maxChars > 0.
func Parse(body []byte, maxChars int) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title = pageTitle(doc)

	doc.Find(noiseSelector).Remove()
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks (li > p) would be counted twice.
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if text := normalizeText(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	content = strings.Join(blocks, "\n")
	if content == "" {
		content = normalizeText(root.Text())
	}
	return title, truncate(content, maxChars), nil
}

func pageTitle(doc *goquery.Document) string {
	if t := normalizeText(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := normalizeText(og); t != "" {
			return t
		}
	}
	return normalizeText(doc.Find("h1").First().Text())
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxChars]))
}
