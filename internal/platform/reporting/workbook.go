package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ContentType is the media type of a written workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Workbook streams rows into a single-sheet xlsx file. Call Close when done,
// after WriteTo.
type Workbook struct {
	file  *excelize.File
	sw    *excelize.StreamWriter
	sheet string
	next  int
}

// NewWorkbook creates a workbook whose first row is headers in bold.
func NewWorkbook(sheet string, headers []string) (*Workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stream writer: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	if len(headers) > 0 {
		if err := sw.SetColWidth(1, len(headers), 20); err != nil {
			f.Close()
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = excelize.Cell{StyleID: style, Value: h}
	}
	if err := sw.SetRow("A1", cells); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Workbook{file: f, sw: sw, sheet: sheet, next: 2}, nil
}

// AddRow appends one data row. Times are written as RFC 3339 text.
func (w *Workbook) AddRow(values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = cellValue(v)
	}
	if err := w.sw.SetRow(cell, row); err != nil {
		return fmt.Errorf("write row %d: %w", w.next, err)
	}
	w.next++
	return nil
}

// Rows is the number of data rows written so far.
func (w *Workbook) Rows() int { return w.next - 2 }

// WriteTo flushes the sheet and writes the xlsx bytes to dst.
func (w *Workbook) WriteTo(dst io.Writer) (int64, error) {
	if err := w.sw.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}
	return w.file.WriteTo(dst)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return ""
		}
		return cellValue(*x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}
