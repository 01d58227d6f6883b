package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JonMunkholm/caseimport/internal/core"
)

// ReadCSV parses CSV input into raw records keyed by the header row. Blank
// header cells drop their column; short rows leave trailing columns empty.
func ReadCSV(r io.Reader) ([]core.RawRecord, error) {
	decoded, _ := Decode(r)
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = slices.Clone(header)
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []core.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rowRecord(header, row))
	}
}

func rowRecord(header, row []string) core.RawRecord {
	rec := make(core.RawRecord, len(header))
	for i, key := range header {
		if key == "" {
			continue
		}
		if i < len(row) {
			rec[key] = row[i]
		} else {
			rec[key] = ""
		}
	}
	return rec
}

// CSVDir reads one <entity_type>.csv file per entity type from a directory.
// Entity types without a file have no records.
type CSVDir struct {
	Dir string
}

// Records implements core.Source.
func (d CSVDir) Records(ctx context.Context, entityType string) ([]core.RawRecord, error) {
	records, err := readCSVFile(ctx, filepath.Join(d.Dir, entityType+".csv"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return records, err
}

// EntityTypes lists the entity types that have a file in the directory.
func (d CSVDir) EntityTypes() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, err
	}
	var types []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		types = append(types, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	slices.Sort(types)
	return types, nil
}

// CSVFile serves a single CSV file as the records of one entity type.
type CSVFile struct {
	Path       string
	EntityType string
}

// Records implements core.Source.
func (f CSVFile) Records(ctx context.Context, entityType string) ([]core.RawRecord, error) {
	if entityType != f.EntityType {
		return nil, nil
	}
	return readCSVFile(ctx, f.Path)
}

func readCSVFile(ctx context.Context, path string) ([]core.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	records, err := ReadCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}
