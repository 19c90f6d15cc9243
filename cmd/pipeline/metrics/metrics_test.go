package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// promauto registers against the default registry, so New runs once for the
// whole test package.
var testMetrics = New()

func TestAddRows(t *testing.T) {
	testMetrics.AddRows("melted", 120)
	testMetrics.AddRows("melted", 30)

	got := testutil.ToFloat64(testMetrics.RowsTotal.WithLabelValues("melted"))
	if got != 150 {
		t.Errorf("rows_total{stage=melted} = %v, want 150", got)
	}
}

func TestAddDropped(t *testing.T) {
	testMetrics.AddDropped("no_metadata", 7)

	got := testutil.ToFloat64(testMetrics.RowsDroppedTotal.WithLabelValues("no_metadata"))
	if got != 7 {
		t.Errorf("rows_dropped_total{cause=no_metadata} = %v, want 7", got)
	}
}

func TestRecordBatch(t *testing.T) {
	testMetrics.RecordBatch("written")
	testMetrics.RecordBatch("written")
	testMetrics.RecordBatch("skipped")

	if got := testutil.ToFloat64(testMetrics.BatchesTotal.WithLabelValues("written")); got != 2 {
		t.Errorf("batches_total{outcome=written} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(testMetrics.BatchesTotal.WithLabelValues("skipped")); got != 1 {
		t.Errorf("batches_total{outcome=skipped} = %v, want 1", got)
	}
}

func TestObserveStage(t *testing.T) {
	testMetrics.ObserveStage("melt", 1.25)

	count := testutil.CollectAndCount(testMetrics.StageDuration)
	if count == 0 {
		t.Error("stage_duration_seconds recorded no series")
	}
}

func TestAddAnomalies(t *testing.T) {
	testMetrics.AddAnomalies(12)

	if got := testutil.ToFloat64(testMetrics.AnomaliesTotal); got != 12 {
		t.Errorf("anomalies_total = %v, want 12", got)
	}
}
