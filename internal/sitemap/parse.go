package sitemap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Namespace is the sitemap protocol 0.9 namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Kind identifies how a sitemap document was read.
type Kind string

const (
	// KindURLSet is a <urlset> listing pages.
	KindURLSet Kind = "urlset"
	// KindIndex is a <sitemapindex> listing child sitemaps.
	KindIndex Kind = "index"
	// KindText is a body that was not sitemap XML; Locations holds its
	// http-prefixed lines.
	KindText Kind = "text"
)

// Document is a parsed sitemap.
type Document struct {
	Kind      Kind
	Locations []string
}

var gzipMagic = []byte{0x1f, 0x8b}

// Parse reads a sitemap body. <urlset> and <sitemapindex> documents yield
// their <loc> values; any other body falls back to a line scan. Gzip-packed
// bodies are inflated first. The only error is a corrupt gzip body.
func Parse(body []byte) (Document, error) {
	if bytes.HasPrefix(body, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return Document{}, fmt.Errorf("sitemap gzip: %w", err)
		}
		inflated, err := io.ReadAll(zr)
		if err != nil {
			return Document{}, fmt.Errorf("sitemap gzip: %w", err)
		}
		body = inflated
	}

	if doc, ok := parseXML(body); ok {
		return doc, nil
	}
	return Document{Kind: KindText, Locations: scanLines(body)}, nil
}

func parseXML(body []byte) (Document, bool) {
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Document{}, false
	}
	var top *xmlquery.Node
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			top = n
			break
		}
	}
	if top == nil || !sitemapNamespace(top.NamespaceURI) {
		return Document{}, false
	}

	var (
		kind  Kind
		query string
	)
	switch top.Data {
	case "urlset":
		kind, query = KindURLSet, "/*[local-name()='url']/*[local-name()='loc']"
	case "sitemapindex":
		kind, query = KindIndex, "/*[local-name()='sitemap']/*[local-name()='loc']"
	default:
		return Document{}, false
	}

	doc := Document{Kind: kind}
	for _, n := range xmlquery.Find(top, "."+query) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			doc.Locations = append(doc.Locations, loc)
		}
	}
	return doc, true
}

// sitemapNamespace accepts the protocol namespace and documents that omit
// it.
func sitemapNamespace(ns string) bool {
	return ns == "" || strings.TrimRight(ns, "/") == Namespace
}

func scanLines(body []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "http") {
			out = append(out, line)
		}
	}
	return out
}
