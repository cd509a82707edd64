package output

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "URLs"

var xlsxColumns = []struct {
	header string
	width  float64
}{
	{"URL", 80},
	{"Title", 60},
	{"Status", 10},
	{"Origin", 14},
}

// XLSXWriter writes records to a single-sheet workbook sorted by URL.
type XLSXWriter struct {
	w     io.Writer
	items []Record
	done  bool
}

// NewXLSXWriter creates a spreadsheet writer.
func NewXLSXWriter(w io.Writer) *XLSXWriter {
	return &XLSXWriter{w: w}
}

// Write buffers a single record.
func (w *XLSXWriter) Write(rec Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *XLSXWriter) WriteAll(recs []Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush builds the workbook and writes it once.
func (w *XLSXWriter) Flush() error {
	if w.done {
		return nil
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(xlsxColumns))
	for i, col := range xlsxColumns {
		header[i] = col.header
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(xlsxSheet, name, name, col.width); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", "D1", bold); err != nil {
		return err
	}

	for i, rec := range sortByURL(w.items) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{rec.URL, rec.Title, rec.Status, rec.Origin}
		if rec.Status == 0 {
			row[2] = nil
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w.w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	w.done = true
	w.items = nil
	return nil
}

// Close flushes the writer.
func (w *XLSXWriter) Close() error {
	return w.Flush()
}
