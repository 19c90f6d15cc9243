package detectors

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RobustScaler centers each column on its median and scales by its
// interquartile range, so extreme values influence the transform far less
// than they would with mean/stddev scaling. Fields are exported for artifact
// persistence; a persisted scaler transforms later matrices without refitting.
type RobustScaler struct {
	Columns []string  `json:"columns"`
	Medians []float64 `json:"medians"`
	// Scales holds per-column IQRs. A zero IQR is stored as 1 so constant
	// columns pass through centered but unscaled.
	Scales []float64 `json:"scales"`
}

// Fit computes per-column medians and IQRs from the full matrix.
func (s *RobustScaler) Fit(m Matrix) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return &ModelFitError{Detector: "robust_scaler", Reason: "empty matrix"}
	}

	s.Columns = append([]string(nil), m.Columns...)
	s.Medians = make([]float64, cols)
	s.Scales = make([]float64, cols)

	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		for i, row := range m.Rows {
			column[i] = row[j]
		}
		sort.Float64s(column)

		s.Medians[j] = stat.Quantile(0.5, stat.Empirical, column, nil)
		iqr := stat.Quantile(0.75, stat.Empirical, column, nil) - stat.Quantile(0.25, stat.Empirical, column, nil)
		if iqr == 0 {
			iqr = 1
		}
		s.Scales[j] = iqr
	}
	return nil
}

// Transform returns a scaled copy of m. The input is not modified.
func (s *RobustScaler) Transform(m Matrix) (Matrix, error) {
	if len(s.Columns) == 0 {
		return Matrix{}, fmt.Errorf("robust_scaler: transform before fit")
	}
	if err := checkPredictInput("robust_scaler", s.Columns, m.Columns); err != nil {
		return Matrix{}, err
	}

	out := Matrix{
		Columns: m.Columns,
		Rows:    make([][]float64, len(m.Rows)),
	}
	for i, row := range m.Rows {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Medians[j]) / s.Scales[j]
		}
		out.Rows[i] = scaled
	}
	return out, nil
}
