// Package links harvests candidate URLs from HTML documents.
//
// Every function returns canonical absolute URLs (see urlpolicy.Normalize) in
// document order without duplicates. Scope and validity filtering is left to
// the caller, which owns the crawl state.
package links

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/sitescout/internal/urlpolicy"
)

// linkSources are the elements whose attribute carries a link.
var linkSources = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{`link[rel="canonical"]`, "href"},
	{"area[href]", "href"},
	{"form[action]", "action"},
	{"iframe[src]", "src"},
	{"script[src]", "src"},
	{`meta[property="og:url"]`, "content"},
	{`link[rel="alternate"]`, "href"},
	{`link[rel="next"]`, "href"},
	{`link[rel="prev"]`, "href"},
}

var (
	scriptRelative = regexp.MustCompile(`["'](/[^"'\s]*)["']`)
	scriptJSONLink = regexp.MustCompile(`(?:href|url|link)["\s]*:["\s]*["']([^"']*)["']`)
)

// Parse builds a document from body. goquery tolerates malformed markup, so
// an error means the body could not be read at all.
func Parse(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// Extract harvests every link-like value from doc: link-bearing elements,
// URL literals in inline scripts and data-* attributes that hold a path or
// mention domain. Relative references resolve against base.
func Extract(doc *goquery.Document, base *url.URL, domain string) []string {
	c := newCollector(base)

	for _, src := range linkSources {
		doc.Find(src.selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(src.attr); ok {
				c.add(v)
			}
		})
	}

	absolute := absolutePattern(domain)
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			return
		}
		if absolute != nil {
			for _, m := range absolute.FindAllString(text, -1) {
				c.add(m)
			}
		}
		for _, re := range []*regexp.Regexp{scriptRelative, scriptJSONLink} {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				c.add(m[1])
			}
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				if !strings.HasPrefix(a.Key, "data-") {
					continue
				}
				if strings.HasPrefix(a.Val, "/") || (domain != "" && strings.Contains(a.Val, domain)) {
					c.add(a.Val)
				}
			}
		}
	})

	return c.urls
}

// Anchors returns the resolved href of every <a> element.
func Anchors(doc *goquery.Document, base *url.URL) []string {
	c := newCollector(base)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("href")
		c.add(v)
	})
	return c.urls
}

// Hrefs returns the raw href values of every <a> element, unresolved.
func Hrefs(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if v, _ := s.Attr("href"); strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	})
	return out
}

// Scripts returns the text of every inline <script> element.
func Scripts(doc *goquery.Document) []string {
	var out []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t := s.Text(); strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	})
	return out
}

func absolutePattern(domain string) *regexp.Regexp {
	if domain == "" {
		return nil
	}
	return regexp.MustCompile(`https?://[^\s"')]*` + regexp.QuoteMeta(domain) + `[^\s"')]*`)
}

type collector struct {
	base *url.URL
	seen map[string]struct{}
	urls []string
}

func newCollector(base *url.URL) *collector {
	return &collector{base: base, seen: make(map[string]struct{})}
}

func (c *collector) add(raw string) {
	u, err := urlpolicy.Normalize(raw, c.base)
	if err != nil {
		return
	}
	if _, ok := c.seen[u]; ok {
		return
	}
	c.seen[u] = struct{}{}
	c.urls = append(c.urls, u)
}
