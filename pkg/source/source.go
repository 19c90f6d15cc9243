// Package source reads the raw input tables the pipeline consumes: wide-format
// meter tables (one column per building), the building metadata table, and the
// site weather table.
//
// Wide tables are deliberately never materialized whole. A WideTable exposes
// its column set up front and then streams rows for a requested subset of
// columns, so the melter can hold one column chunk at a time regardless of how
// many buildings the table covers.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meterflow/meterflow/pkg/meter"
)

// SchemaError reports a required column missing from a raw table. It is a
// structural precondition failure: the affected table produces no batches.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s: required column %q missing", e.Table, e.Column)
}

// timestampLayouts are tried in order when parsing raw timestamps.
// BDG2 exports use the first form.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses a raw table timestamp, trying each supported layout.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// WideTable is a wide-format meter table: a timestamp column plus one numeric
// column per building. Implementations stream rows so callers control how
// many columns are resident at once.
type WideTable interface {
	// Name identifies the table; for file-backed tables this is the base
	// file name without extension, which doubles as the meter type.
	Name() string

	// Columns returns the building column identifiers in header order,
	// excluding the timestamp column. It fails with *SchemaError if the
	// timestamp column is absent.
	Columns() ([]string, error)

	// Scan streams every row, invoking fn with the parsed timestamp and the
	// values for the requested columns, in the same order as cols. present[i]
	// is false for empty cells. Scan stops early if fn returns an error.
	Scan(cols []string, fn func(ts time.Time, values []float64, present []bool) error) error
}

// CSVWideTable reads a wide table from a CSV file whose first column must be
// named "timestamp".
type CSVWideTable struct {
	Path string
}

func (t *CSVWideTable) Name() string {
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (t *CSVWideTable) Columns() ([]string, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("open wide table: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", t.Path, err)
	}
	if len(header) == 0 || header[0] != "timestamp" {
		return nil, &SchemaError{Table: t.Name(), Column: "timestamp"}
	}
	cols := make([]string, len(header)-1)
	copy(cols, header[1:])
	return cols, nil
}

func (t *CSVWideTable) Scan(cols []string, fn func(ts time.Time, values []float64, present []bool) error) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return fmt.Errorf("open wide table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", t.Path, err)
	}
	if len(header) == 0 || header[0] != "timestamp" {
		return &SchemaError{Table: t.Name(), Column: "timestamp"}
	}

	// Map each requested column to its position in the header.
	indices := make([]int, len(cols))
	for i, col := range cols {
		indices[i] = -1
		for j, h := range header {
			if h == col {
				indices[i] = j
				break
			}
		}
		if indices[i] == -1 {
			return &SchemaError{Table: t.Name(), Column: col}
		}
	}

	values := make([]float64, len(cols))
	present := make([]bool, len(cols))

	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s line %d: %w", t.Path, line, err)
		}

		ts, err := ParseTimestamp(record[0])
		if err != nil {
			return fmt.Errorf("%s line %d: %w", t.Path, line, err)
		}

		for i, idx := range indices {
			cell := ""
			if idx < len(record) {
				cell = record[idx]
			}
			if cell == "" {
				present[i] = false
				values[i] = 0
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return fmt.Errorf("%s line %d column %s: %w", t.Path, line, cols[i], err)
			}
			values[i] = v
			present[i] = true
		}

		if err := fn(ts, values, present); err != nil {
			return err
		}
	}
}

// DiscoverWideTables lists the wide meter tables in dir, one CSV per meter
// type, skipping the metadata and weather reference tables if they live in
// the same directory.
func DiscoverWideTables(dir string) ([]*CSVWideTable, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	var tables []*CSVWideTable
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".csv")
		if name == "metadata" || name == "weather" {
			continue
		}
		tables = append(tables, &CSVWideTable{Path: p})
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no wide meter tables found in %s", dir)
	}
	return tables, nil
}

// MeterTypeOf maps a wide table to the meter type its readings carry.
func MeterTypeOf(t WideTable) meter.MeterType {
	return meter.MeterType(t.Name())
}
