package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

var errWriterClosed = errors.New("output: writer already flushed")

// JSONWriter streams records as one JSON array. The array is opened by the
// first record and closed by Flush; records written after that are rejected.
type JSONWriter struct {
	w      *bufio.Writer
	pretty bool
	indent string
	count  int
	closed bool
}

// NewJSONWriter creates a JSON writer. With pretty set, each record is
// indented by indent inside the array.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), pretty: pretty, indent: indent}
}

func (w *JSONWriter) separator() string {
	switch {
	case w.count == 0 && w.pretty:
		return "[\n" + w.indent
	case w.count == 0:
		return "["
	case w.pretty:
		return ",\n" + w.indent
	default:
		return ","
	}
}

// Write appends a record to the array.
func (w *JSONWriter) Write(rec Record) error {
	if w.closed {
		return errWriterClosed
	}
	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(rec, w.indent, w.indent)
	} else {
		data, err = json.Marshal(rec)
	}
	if err != nil {
		return err
	}
	if _, err := w.w.WriteString(w.separator()); err != nil {
		return err
	}
	w.count++
	_, err = w.w.Write(data)
	return err
}

// WriteAll appends every record.
func (w *JSONWriter) WriteAll(recs []Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush closes the array on its first call. An empty writer produces "[]".
func (w *JSONWriter) Flush() error {
	if !w.closed {
		end := "]\n"
		switch {
		case w.count == 0:
			end = "[]\n"
		case w.pretty:
			end = "\n]\n"
		}
		if _, err := w.w.WriteString(end); err != nil {
			return err
		}
		w.closed = true
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONWriter) Close() error {
	return w.Flush()
}

// JSONLWriter writes one JSON record per line and flushes after each.
type JSONLWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	bw := bufio.NewWriter(w)
	return &JSONLWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write encodes rec as a single line.
func (w *JSONLWriter) Write(rec Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteAll writes every record on its own line.
func (w *JSONLWriter) WriteAll(recs []Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered output.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.Flush()
}
