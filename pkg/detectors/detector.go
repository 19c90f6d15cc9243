// Package detectors implements the unsupervised anomaly detector set and the
// robust scaling transform applied before fitting.
//
// The set is fixed and enumerated: an isolation forest, a local outlier
// factor detector, and a robust-covariance (elliptic envelope) detector. All
// three implement the Detector interface and are chosen at construction time;
// the voting logic upstream never inspects concrete types, so extending the
// set means adding an implementation here and nothing else.
package detectors

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/meterflow/meterflow/pkg/meter"
)

// MinFitRows is the smallest feature matrix any detector accepts.
const MinFitRows = 16

// Matrix is a dense feature matrix with named columns. Rows are complete:
// callers exclude readings with missing features before building a Matrix.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Dims returns the row and column counts.
func (m Matrix) Dims() (rows, cols int) {
	return len(m.Rows), len(m.Columns)
}

// ModelFitError reports a feature matrix too small or degenerate for a
// detector to fit. It aborts the scoring stage.
type ModelFitError struct {
	Detector string
	Reason   string
}

func (e *ModelFitError) Error() string {
	return fmt.Sprintf("detector %s: cannot fit: %s", e.Detector, e.Reason)
}

// Detector is the common capability surface of every ensemble member. Fit and
// Predict are independent per detector: implementations share no mutable
// state, so detectors may fit and predict concurrently.
type Detector interface {
	Name() string
	Fit(ctx context.Context, m Matrix) error
	Predict(ctx context.Context, m Matrix) ([]meter.Label, error)
}

// checkFitInput validates the common fit preconditions.
func checkFitInput(name string, m Matrix) error {
	rows, cols := m.Dims()
	if cols == 0 {
		return &ModelFitError{Detector: name, Reason: "matrix has no feature columns"}
	}
	if rows < MinFitRows {
		return &ModelFitError{Detector: name, Reason: fmt.Sprintf("%d rows, need at least %d", rows, MinFitRows)}
	}
	if allColumnsConstant(m) {
		return &ModelFitError{Detector: name, Reason: "zero variance across all feature columns"}
	}
	return nil
}

// allColumnsConstant reports whether every feature column holds a single
// value. Such a matrix carries no signal to fit on.
func allColumnsConstant(m Matrix) bool {
	for j := range m.Columns {
		first := m.Rows[0][j]
		for _, row := range m.Rows[1:] {
			if row[j] != first {
				return false
			}
		}
	}
	return true
}

// checkPredictInput validates that the matrix matches the columns seen at fit
// time.
func checkPredictInput(name string, fitted, m []string) error {
	if len(fitted) == 0 {
		return fmt.Errorf("detector %s: predict before fit", name)
	}
	if len(m) != len(fitted) {
		return fmt.Errorf("detector %s: matrix has %d columns, fitted on %d", name, len(m), len(fitted))
	}
	for i := range fitted {
		if m[i] != fitted[i] {
			return fmt.Errorf("detector %s: column %d is %q, fitted on %q", name, i, m[i], fitted[i])
		}
	}
	return nil
}

// scoreThreshold returns the anomaly cutoff for a score distribution: the
// (1 - contamination) empirical quantile of the training scores. Scores
// strictly above the cutoff are anomalies, so roughly a contamination
// fraction of the training set is flagged.
func scoreThreshold(scores []float64, contamination float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return stat.Quantile(1-contamination, stat.Empirical, sorted, nil)
}

// labelByThreshold maps scores to labels using a fitted cutoff.
func labelByThreshold(scores []float64, threshold float64) []meter.Label {
	labels := make([]meter.Label, len(scores))
	for i, s := range scores {
		if s > threshold {
			labels[i] = meter.LabelAnomaly
		} else {
			labels[i] = meter.LabelNormal
		}
	}
	return labels
}

func euclideanSq(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
