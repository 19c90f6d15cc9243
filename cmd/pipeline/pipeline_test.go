package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/meterflow/meterflow/cmd/pipeline/config"
	"github.com/meterflow/meterflow/pkg/meter"
	"github.com/meterflow/meterflow/pkg/storage"
)

// A resumed run skips stages whose artifacts exist, but the run summary must
// still report those stages' counts, recovered from the artifacts.
func TestResume_RecoversSummaryCounts(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store, err := storage.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}

	manifest := Manifest{
		Batches: []BatchRef{
			{Name: "batch_electricity_000.parquet", Meter: meter.Electricity, Index: 0, Buildings: 2, Rows: 120},
			{Name: "batch_electricity_001.parquet", Meter: meter.Electricity, Index: 1, Buildings: 1, Rows: 60},
		},
		Skipped: []string{"batch_electricity_002.parquet"},
	}
	if err := store.WriteJSON(manifestArtifact, manifest); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	h0 := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	assembled := []meter.EnrichedReading{
		{Timestamp: h0, BuildingID: "B1", Meter: meter.Electricity, Value: 1},
		{Timestamp: h0.Add(time.Hour), BuildingID: "B1", Meter: meter.Electricity, Value: 2},
		{Timestamp: h0, BuildingID: "B2", Meter: meter.Electricity, Value: 3},
	}
	if err := storage.WriteRows(store, assembledArtifact, assembled); err != nil {
		t.Fatalf("WriteRows() error = %v", err)
	}

	cfg := &config.Config{Resume: true}
	p := NewPipeline(cfg, store, nil, nil, nil, nil, logger)

	got, err := p.runMelt(context.Background())
	if err != nil {
		t.Fatalf("runMelt() error = %v", err)
	}
	if len(got.Batches) != 2 {
		t.Fatalf("runMelt() returned %d batches, want 2", len(got.Batches))
	}
	if err := p.runAssemble(context.Background(), got); err != nil {
		t.Fatalf("runAssemble() error = %v", err)
	}

	p.mu.Lock()
	summary := p.summary
	p.mu.Unlock()

	if summary.RowsMelted != 180 {
		t.Errorf("RowsMelted = %d, want 180 from the manifest", summary.RowsMelted)
	}
	if summary.BatchesWritten != 2 {
		t.Errorf("BatchesWritten = %d, want 2", summary.BatchesWritten)
	}
	if len(summary.BatchesSkipped) != 1 || summary.BatchesSkipped[0] != "batch_electricity_002.parquet" {
		t.Errorf("BatchesSkipped = %v, want the manifest's skipped batch", summary.BatchesSkipped)
	}
	if summary.RowsSampled != 3 {
		t.Errorf("RowsSampled = %d, want 3 from the assembled artifact", summary.RowsSampled)
	}
}
