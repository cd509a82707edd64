package output

import (
	"bufio"
	"encoding/xml"
	"io"
	"time"

	"github.com/jmylchreest/sitescout/internal/urlpolicy"
)

// SitemapNamespace is the sitemap protocol 0.9 namespace.
const SitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// DefaultChangeFreq is the changefreq written for every URL.
const DefaultChangeFreq = "weekly"

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// Priority is "1.0" for URLs with at most two slashes once trailing slashes
// are dropped, which is a bare host such as https://example.org, and "0.8"
// for everything else.
func Priority(rawURL string) string {
	if urlpolicy.SlashDepth(rawURL) <= 2 {
		return "1.0"
	}
	return "0.8"
}

// SitemapWriter writes records as a sitemap urlset sorted by URL.
type SitemapWriter struct {
	w          *bufio.Writer
	lastMod    string
	changeFreq string
	items      []Record
	done       bool
}

// NewSitemapWriter creates a sitemap writer. Every entry gets lastMod's date
// and changeFreq.
func NewSitemapWriter(w io.Writer, lastMod time.Time, changeFreq string) *SitemapWriter {
	return &SitemapWriter{
		w:          bufio.NewWriter(w),
		lastMod:    lastMod.Format(time.DateOnly),
		changeFreq: changeFreq,
	}
}

// Write buffers a single record.
func (w *SitemapWriter) Write(rec Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *SitemapWriter) WriteAll(recs []Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the document once. Later calls only flush the buffer.
func (w *SitemapWriter) Flush() error {
	if w.done {
		return w.w.Flush()
	}
	doc := urlset{Xmlns: SitemapNamespace}
	seen := make(map[string]bool, len(w.items))
	for _, rec := range sortByURL(w.items) {
		if seen[rec.URL] {
			continue
		}
		seen[rec.URL] = true
		doc.URLs = append(doc.URLs, sitemapURL{
			Loc:        rec.URL,
			LastMod:    w.lastMod,
			ChangeFreq: w.changeFreq,
			Priority:   Priority(rec.URL),
		})
	}

	if _, err := w.w.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w.w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	w.done = true
	w.items = nil
	return w.w.Flush()
}

// Close flushes the writer.
func (w *SitemapWriter) Close() error {
	return w.Flush()
}
