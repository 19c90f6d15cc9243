// Package melt reshapes wide-format meter tables into long-format reading
// batches, one fixed-size column chunk at a time. Peak memory for a table
// with R rows is O(R × chunk size), independent of how many building columns
// the table has.
package melt

import (
	"context"
	"fmt"
	"time"

	"github.com/meterflow/meterflow/pkg/meter"
	"github.com/meterflow/meterflow/pkg/source"
)

// Batch is one melted column chunk: every reading for the chunk's buildings,
// across every timestamp row of the source table. Cells that were empty in
// the wide table produce no reading.
type Batch struct {
	// Index is the zero-based chunk index within the table.
	Index int
	// Meter is the meter type of every reading in the batch.
	Meter meter.MeterType
	// Buildings are the chunk's building columns, in header order.
	Buildings []string
	Readings  []meter.Reading
}

// Melter splits one wide table into column chunks and melts them on demand.
// Chunks are disjoint and cover the column set exactly once, so the union of
// building IDs across all batches equals the table's columns.
type Melter struct {
	table     source.WideTable
	meterType meter.MeterType
	chunkSize int
	columns   []string
}

// New enumerates the table's columns and prepares chunking. It fails with
// *source.SchemaError before producing any batch if the timestamp column is
// missing.
func New(table source.WideTable, chunkSize int) (*Melter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	columns, err := table.Columns()
	if err != nil {
		return nil, err
	}
	return &Melter{
		table:     table,
		meterType: source.MeterTypeOf(table),
		chunkSize: chunkSize,
		columns:   columns,
	}, nil
}

// Columns returns the table's building columns in header order.
func (m *Melter) Columns() []string {
	return m.columns
}

// Chunks returns the ⌈K/C⌉ column chunks in header order. Each column appears
// in exactly one chunk.
func (m *Melter) Chunks() [][]string {
	var chunks [][]string
	for start := 0; start < len(m.columns); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(m.columns) {
			end = len(m.columns)
		}
		chunks = append(chunks, m.columns[start:end])
	}
	return chunks
}

// Melt produces the long-format batch for one chunk. Only the chunk's columns
// are materialized; the rest of the table is skipped during the scan.
func (m *Melter) Melt(ctx context.Context, index int, chunk []string) (*Batch, error) {
	batch := &Batch{
		Index:     index,
		Meter:     m.meterType,
		Buildings: chunk,
	}

	err := m.table.Scan(chunk, func(ts time.Time, values []float64, present []bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, building := range chunk {
			if !present[i] {
				continue
			}
			batch.Readings = append(batch.Readings, meter.Reading{
				Timestamp:  ts,
				BuildingID: building,
				Meter:      m.meterType,
				Value:      values[i],
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("melt %s chunk %d: %w", m.table.Name(), index, err)
	}
	return batch, nil
}
