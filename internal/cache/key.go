// Package cache is the get-or-compute façade the pipeline uses in front of an
// external key/value store. Store failures are logged and treated as misses:
// the cache speeds runs up but is never required for a correct result.
package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DescriptionField is the sentinel field under which a site description is
// cached. It cannot collide with a URL path, which always starts with "/".
const DescriptionField = "__site_description__"

// Key addresses one cache entry: the model scope, the site host, and either
// a page path or DescriptionField.
type Key struct {
	Scope string
	Host  string
	Field string
}

// StoreScope is the scope string handed to the Store.
func (k Key) StoreScope() string {
	return k.Scope + ":" + k.Host
}

func (k Key) String() string {
	return k.StoreScope() + "|" + k.Field
}

// PageKey derives the key for a page summary. The host comes from site so
// every page of a run shares one scope; the field is the page's URL path
// (with query, if any), and an empty path becomes "/".
func PageKey(model, site, pageURL string) (Key, error) {
	siteURL, err := parseURL(site)
	if err != nil {
		return Key{}, err
	}
	u, err := parseURL(pageURL)
	if err != nil {
		return Key{}, err
	}
	field := u.EscapedPath()
	if field == "" {
		field = "/"
	}
	if u.RawQuery != "" {
		field += "?" + u.RawQuery
	}
	return Key{Scope: model, Host: strings.ToLower(siteURL.Hostname()), Field: field}, nil
}

// DescriptionKey derives the key for a site-level description.
func DescriptionKey(model, site string) (Key, error) {
	u, err := parseURL(site)
	if err != nil {
		return Key{}, err
	}
	return Key{Scope: model, Host: strings.ToLower(u.Hostname()), Field: DescriptionField}, nil
}

func parseURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cache key url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("parse cache key url: %q has no host", raw)
	}
	return u, nil
}

// PageEntry is the cached value for a page.
type PageEntry struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// EncodePageEntry serializes a page entry for storage.
func EncodePageEntry(title, summary string) (string, error) {
	data, err := json.Marshal(PageEntry{Title: title, Summary: summary})
	if err != nil {
		return "", fmt.Errorf("encode page entry: %w", err)
	}
	return string(data), nil
}

// DecodePageEntry parses a stored value. Values that are not a JSON entry
// are read as a bare summary. A decoded entry may carry an empty summary;
// callers treat that as a miss.
func DecodePageEntry(value string) PageEntry {
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		var entry PageEntry
		if err := json.Unmarshal([]byte(value), &entry); err == nil {
			return entry
		}
	}
	return PageEntry{Summary: value}
}
