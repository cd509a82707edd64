// Package output handles export formatting and writing of crawl records.
package output

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// Format represents output format types.
type Format string

const (
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatYAML    Format = "yaml"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatSitemap Format = "sitemap"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatJSONL, FormatYAML, FormatCSV, FormatXLSX, FormatSitemap}
}

// ParseFormat maps a name (case-insensitive, "xml" for sitemap) to a Format.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "xml" {
		return FormatSitemap, nil
	}
	f := Format(name)
	if !slices.Contains(Formats(), f) {
		return "", fmt.Errorf("unsupported output format: %s", name)
	}
	return f, nil
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatYAML:
		return "application/yaml"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatSitemap:
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}

// Record is one visited URL of a crawl.
type Record struct {
	URL    string `json:"url" yaml:"url"`
	Title  string `json:"title" yaml:"title"`
	Status int    `json:"status,omitempty" yaml:"status,omitempty"`
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Writer handles output serialization.
type Writer interface {
	// Write outputs a single record.
	Write(rec Record) error

	// WriteAll outputs multiple records.
	WriteAll(recs []Record) error

	// Flush ensures all data is written.
	Flush() error

	// Close releases resources.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty     bool
	indent     string
	lastMod    time.Time
	changeFreq string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// WithLastMod sets the sitemap lastmod date, normally the crawl completion
// time.
func WithLastMod(t time.Time) WriterOption {
	return func(c *writerConfig) {
		c.lastMod = t
	}
}

// WithChangeFreq sets the sitemap changefreq value.
func WithChangeFreq(freq string) WriterOption {
	return func(c *writerConfig) {
		c.changeFreq = freq
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty:     true,
		indent:     "  ",
		changeFreq: DefaultChangeFreq,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.lastMod.IsZero() {
		cfg.lastMod = time.Now()
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatCSV:
		return NewCSVWriter(w), nil
	case FormatXLSX:
		return NewXLSXWriter(w), nil
	case FormatSitemap:
		return NewSitemapWriter(w, cfg.lastMod, cfg.changeFreq), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteRecords writes recs in format to w and flushes.
func WriteRecords(w io.Writer, format Format, recs []Record, opts ...WriterOption) error {
	ow, err := NewWriter(w, format, opts...)
	if err != nil {
		return err
	}
	if err := ow.WriteAll(recs); err != nil {
		return err
	}
	return ow.Close()
}

// sortByURL returns recs ordered by URL.
func sortByURL(recs []Record) []Record {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b Record) int { return strings.Compare(a.URL, b.URL) })
	return out
}
