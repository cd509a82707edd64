package output

import (
	"encoding/csv"
	"io"

	"github.com/jmylchreest/sitescout/internal/metadata"
)

// CSVWriter writes a URL,Title table sorted by URL.
type CSVWriter struct {
	w     *csv.Writer
	items []Record
	done  bool
}

// NewCSVWriter creates a CSV writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write buffers a single record.
func (w *CSVWriter) Write(rec Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *CSVWriter) WriteAll(recs []Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the header and rows once. Records without a title get the
// not-found sentinel.
func (w *CSVWriter) Flush() error {
	if w.done {
		w.w.Flush()
		return w.w.Error()
	}
	if err := w.w.Write([]string{"URL", "Title"}); err != nil {
		return err
	}
	for _, rec := range sortByURL(w.items) {
		title := rec.Title
		if title == "" {
			title = metadata.NotFound
		}
		if err := w.w.Write([]string{rec.URL, title}); err != nil {
			return err
		}
	}
	w.done = true
	w.items = nil
	w.w.Flush()
	return w.w.Error()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}
