package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/caseimport/internal/core"
)

// Workbook serves an .xlsx workbook with one sheet per entity type. Sheet
// names are matched by header key, so "Case Subjects" feeds case_subjects.
// Cells are read raw: dates arrive as serial numbers and are converted by
// the date normalizer.
type Workbook struct {
	file *excelize.File

	mu     sync.Mutex
	sheets map[string]string // entity type -> sheet name
}

// OpenWorkbook opens a workbook file.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return newWorkbook(f), nil
}

// ReadWorkbook opens a workbook from a stream.
func ReadWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return newWorkbook(f), nil
}

func newWorkbook(f *excelize.File) *Workbook {
	w := &Workbook{file: f, sheets: make(map[string]string)}
	for _, name := range f.GetSheetList() {
		key := core.HeaderKey(name)
		if _, dup := w.sheets[key]; !dup {
			w.sheets[key] = name
		}
	}
	return w
}

// EntityTypes lists the sheet keys in workbook order.
func (w *Workbook) EntityTypes() []string {
	var out []string
	for _, name := range w.file.GetSheetList() {
		key := core.HeaderKey(name)
		if w.sheets[key] == name {
			out = append(out, key)
		}
	}
	return out
}

// Records implements core.Source.
func (w *Workbook) Records(ctx context.Context, entityType string) ([]core.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sheet, ok := w.sheets[entityType]
	if !ok {
		return nil, nil
	}

	// excelize.File is not safe for concurrent reads of the same sheet.
	w.mu.Lock()
	rows, err := w.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	w.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	records := make([]core.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, rowRecord(header, row))
	}
	return records, nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.file.Close()
}
