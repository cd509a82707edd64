// Package metadata derives page titles from fetched documents and, when a
// page cannot be fetched or has no usable title, the placeholder or
// synthesized title recorded in its place.
package metadata

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NotFound is returned when a document yields no usable title.
const NotFound = "Title not found"

// Placeholder titles recorded for pages that did not produce a document.
const (
	Redirect   = "Redirect"
	TimedOut   = "Timed out"
	AccessErr  = "Access error"
	Disallowed = "Disallowed by robots.txt"
	// Fallback is the synthesized title for URLs with no usable path.
	Fallback = "Page"
)

var genericTitles = map[string]bool{
	"untitled": true,
	"page":     true,
	"home":     true,
}

// Title parses body as HTML and extracts its title. Parse failures yield
// NotFound.
func Title(body []byte, domain string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return NotFound
	}
	return ExtractTitle(doc, domain)
}

// ExtractTitle tries the <title> element, og:title, twitter:title and the
// first <h1>, in that order, and returns the first candidate that is longer
// than two characters and not a generic placeholder. A trailing
// " - domain", " | domain" or " :: domain" suffix is removed.
func ExtractTitle(doc *goquery.Document, domain string) string {
	if doc == nil {
		return NotFound
	}
	candidates := []string{
		doc.Find("title").First().Text(),
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`),
		doc.Find("h1").First().Text(),
	}
	for _, c := range candidates {
		if t := clean(c, domain); usable(t) {
			return t
		}
	}
	return NotFound
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return v
}

func clean(title, domain string) string {
	title = strings.Join(strings.Fields(title), " ")
	if domain == "" {
		return title
	}
	for _, sep := range []string{" - ", " | ", " :: "} {
		title = strings.TrimSuffix(title, sep+domain)
	}
	return title
}

func usable(title string) bool {
	return len([]rune(title)) > 2 && !genericTitles[strings.ToLower(title)]
}

// StatusTitle is the placeholder for a non-200, non-redirect response.
func StatusTitle(code int) string {
	return "HTTP " + strconv.Itoa(code)
}

// IsPlaceholder reports whether title is one of the placeholders rather
// than text taken from a document.
func IsPlaceholder(title string) bool {
	switch title {
	case NotFound, Redirect, TimedOut, AccessErr, Disallowed, Fallback:
		return true
	}
	return strings.HasPrefix(title, "HTTP ")
}

// FromPath synthesizes a readable title from the last one or two path
// segments of rawURL: "/blog/my-first_post" becomes "Blog My First Post".
// URLs without a usable path yield Fallback.
func FromPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Fallback
	}
	var parts []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || strings.EqualFold(seg, "index.html") {
			continue
		}
		if dec, err := url.PathUnescape(seg); err == nil {
			seg = dec
		}
		parts = append(parts, seg)
	}
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}

	caser := cases.Title(language.Und)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.NewReplacer("-", " ", "_", " ").Replace(p)
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			words = append(words, caser.String(p))
		}
	}
	if len(words) == 0 {
		return Fallback
	}
	return strings.Join(words, " ")
}
