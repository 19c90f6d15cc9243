package melt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meterflow/meterflow/pkg/meter"
	"github.com/meterflow/meterflow/pkg/source"
)

func wideFixture(t *testing.T, content string) *source.CSVWideTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "electricity.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return &source.CSVWideTable{Path: path}
}

const threeBuildingTable = "timestamp,B1,B2,B3\n" +
	"2016-01-01 00:00:00,1.0,10.0,100.0\n" +
	"2016-01-01 01:00:00,2.0,20.0,200.0\n" +
	"2016-01-01 02:00:00,3.0,,300.0\n"

func TestMelter_Chunks(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		want      [][]string
	}{
		{
			name:      "chunk size 2 splits 3 columns into 2+1",
			chunkSize: 2,
			want:      [][]string{{"B1", "B2"}, {"B3"}},
		},
		{
			name:      "chunk size 1 yields one chunk per column",
			chunkSize: 1,
			want:      [][]string{{"B1"}, {"B2"}, {"B3"}},
		},
		{
			name:      "chunk size larger than column count yields one chunk",
			chunkSize: 10,
			want:      [][]string{{"B1", "B2", "B3"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(wideFixture(t, threeBuildingTable), tt.chunkSize)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			chunks := m.Chunks()
			if len(chunks) != len(tt.want) {
				t.Fatalf("Chunks() = %v, want %v", chunks, tt.want)
			}
			for i := range tt.want {
				if len(chunks[i]) != len(tt.want[i]) {
					t.Fatalf("chunk %d = %v, want %v", i, chunks[i], tt.want[i])
				}
				for j := range tt.want[i] {
					if chunks[i][j] != tt.want[i][j] {
						t.Errorf("chunk %d col %d = %q, want %q", i, j, chunks[i][j], tt.want[i][j])
					}
				}
			}
		})
	}
}

// Every building column must appear in exactly one batch across all chunks.
func TestMelter_UnionExactlyOnce(t *testing.T) {
	m, err := New(wideFixture(t, threeBuildingTable), 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	seen := make(map[string]int)
	for i, chunk := range m.Chunks() {
		batch, err := m.Melt(context.Background(), i, chunk)
		if err != nil {
			t.Fatalf("Melt(%d) error = %v", i, err)
		}
		batchBuildings := make(map[string]bool)
		for _, r := range batch.Readings {
			batchBuildings[r.BuildingID] = true
		}
		for b := range batchBuildings {
			seen[b]++
		}
	}

	for _, b := range []string{"B1", "B2", "B3"} {
		if seen[b] != 1 {
			t.Errorf("building %s appeared in %d batches, want 1", b, seen[b])
		}
	}
	if len(seen) != 3 {
		t.Errorf("union has %d buildings, want 3", len(seen))
	}
}

// Pivoting a melted batch back to wide format must reproduce the original
// cell values exactly.
func TestMelter_PivotRoundTrip(t *testing.T) {
	m, err := New(wideFixture(t, threeBuildingTable), 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	batch, err := m.Melt(context.Background(), 0, m.Chunks()[0])
	if err != nil {
		t.Fatalf("Melt() error = %v", err)
	}

	// Pivot back: (timestamp, building) -> value.
	pivot := make(map[time.Time]map[string]float64)
	for _, r := range batch.Readings {
		if pivot[r.Timestamp] == nil {
			pivot[r.Timestamp] = make(map[string]float64)
		}
		if _, dup := pivot[r.Timestamp][r.BuildingID]; dup {
			t.Fatalf("duplicate reading for %s at %v", r.BuildingID, r.Timestamp)
		}
		pivot[r.Timestamp][r.BuildingID] = r.Value
	}

	h0 := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := h0.Add(time.Hour)
	h2 := h0.Add(2 * time.Hour)

	want := map[time.Time]map[string]float64{
		h0: {"B1": 1.0, "B2": 10.0},
		h1: {"B1": 2.0, "B2": 20.0},
		h2: {"B1": 3.0}, // B2 cell is empty at h2
	}
	for ts, cols := range want {
		for b, v := range cols {
			if got := pivot[ts][b]; got != v {
				t.Errorf("pivot[%v][%s] = %v, want %v", ts, b, got, v)
			}
		}
		if len(pivot[ts]) != len(cols) {
			t.Errorf("pivot[%v] has %d cells, want %d", ts, len(pivot[ts]), len(cols))
		}
	}
}

func TestMelter_BatchMetadata(t *testing.T) {
	m, err := New(wideFixture(t, threeBuildingTable), 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	batch, err := m.Melt(context.Background(), 1, m.Chunks()[1])
	if err != nil {
		t.Fatalf("Melt() error = %v", err)
	}
	if batch.Index != 1 {
		t.Errorf("Index = %d, want 1", batch.Index)
	}
	if batch.Meter != meter.Electricity {
		t.Errorf("Meter = %q, want %q", batch.Meter, meter.Electricity)
	}
	for _, r := range batch.Readings {
		if r.Meter != meter.Electricity {
			t.Errorf("reading meter = %q, want %q", r.Meter, meter.Electricity)
		}
		if r.BuildingID != "B3" {
			t.Errorf("reading building = %q, want B3", r.BuildingID)
		}
	}
}

func TestNew_MissingTimestampFailsBeforeAnyBatch(t *testing.T) {
	table := wideFixture(t, "time,B1\n2016-01-01 00:00:00,1.0\n")

	_, err := New(table, 2)
	var schemaErr *source.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("New() error = %v, want *source.SchemaError", err)
	}
}

func TestNew_RejectsBadChunkSize(t *testing.T) {
	if _, err := New(wideFixture(t, threeBuildingTable), 0); err == nil {
		t.Error("New() should reject chunk size 0")
	}
}
