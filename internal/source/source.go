// Package source provides record sources for import runs: in-memory
// batches, a directory of CSV files, a single CSV file and an .xlsx
// workbook.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/caseimport/internal/core"
)

// Batches serves records held in memory, keyed by entity type.
type Batches map[string][]core.RawRecord

// Records implements core.Source.
func (b Batches) Records(_ context.Context, entityType string) ([]core.RawRecord, error) {
	return b[entityType], nil
}

// Len returns the number of records over all entity types.
func (b Batches) Len() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}
	return n
}

// Collect reads every listed entity type from src into memory. Entity
// types without records are left out.
func Collect(ctx context.Context, src core.Source, entityTypes []string) (Batches, error) {
	out := make(Batches)
	for _, entityType := range entityTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := src.Records(ctx, entityType)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entityType, err)
		}
		if len(records) > 0 {
			out[entityType] = records
		}
	}
	return out, nil
}

// Open picks a source for path: a directory of CSV files, an .xlsx
// workbook, or a single CSV file named after its entity type. The returned
// closer must be called when the run is done.
func Open(path string) (core.Source, io.Closer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return CSVDir{Dir: path}, io.NopCloser(nil), nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx", ".xlsm":
		wb, err := OpenWorkbook(path)
		if err != nil {
			return nil, nil, err
		}
		return wb, wb, nil
	case ".csv":
		entityType := core.HeaderKey(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		return CSVFile{Path: path, EntityType: entityType}, io.NopCloser(nil), nil
	default:
		return nil, nil, fmt.Errorf("unsupported input %q: want a directory, .csv or .xlsx", path)
	}
}
