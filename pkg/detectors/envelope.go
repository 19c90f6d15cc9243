package detectors

import (
	"context"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/meterflow/meterflow/pkg/meter"
)

// EllipticEnvelope fits a robust Gaussian envelope: the location is the
// per-column median rather than the mean, and points whose squared
// Mahalanobis distance exceeds the contamination quantile of the training
// distances vote anomaly.
type EllipticEnvelope struct {
	Contamination float64

	FitCols  []string
	Location []float64
	// Precision is the inverse covariance matrix, row major.
	Precision [][]float64
	Threshold float64
}

// NewEllipticEnvelope creates an unfitted envelope detector.
func NewEllipticEnvelope(contamination float64) *EllipticEnvelope {
	return &EllipticEnvelope{Contamination: contamination}
}

func (e *EllipticEnvelope) Name() string { return "elliptic_envelope" }

// Fit estimates location and precision from the matrix and derives the
// distance threshold. A covariance matrix that is not positive definite gets
// one diagonal ridge retry; if that also fails the matrix is degenerate and
// the fit reports ModelFitError.
func (e *EllipticEnvelope) Fit(ctx context.Context, m Matrix) error {
	if err := checkFitInput(e.Name(), m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rows, cols := m.Dims()

	var scaler RobustScaler
	if err := scaler.Fit(m); err != nil {
		return err
	}
	e.Location = scaler.Medians
	e.FitCols = append([]string(nil), m.Columns...)

	centered := mat.NewDense(rows, cols, nil)
	for i, row := range m.Rows {
		for j, v := range row {
			centered.Set(i, j, v-e.Location[j])
		}
	}

	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, centered, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		// Singular covariance, typically from a constant or collinear
		// column. Add a small diagonal ridge and retry once.
		ridge := 1e-6 * (mat.Trace(cov)/float64(cols) + 1)
		for j := 0; j < cols; j++ {
			cov.SetSym(j, j, cov.At(j, j)+ridge)
		}
		if ok := chol.Factorize(cov); !ok {
			return &ModelFitError{Detector: e.Name(), Reason: "covariance matrix is singular"}
		}
	}

	var precision mat.SymDense
	if err := chol.InverseTo(&precision); err != nil {
		return &ModelFitError{Detector: e.Name(), Reason: "covariance matrix is not invertible"}
	}

	e.Precision = make([][]float64, cols)
	for i := 0; i < cols; i++ {
		e.Precision[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			e.Precision[i][j] = precision.At(i, j)
		}
	}

	scores := e.distances(m.Rows)
	e.Threshold = scoreThreshold(scores, e.Contamination)
	return nil
}

// Predict labels each row by its squared Mahalanobis distance from the
// fitted location.
func (e *EllipticEnvelope) Predict(ctx context.Context, m Matrix) ([]meter.Label, error) {
	if err := checkPredictInput(e.Name(), e.FitCols, m.Columns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return labelByThreshold(e.distances(m.Rows), e.Threshold), nil
}

// distances computes the squared Mahalanobis distance dᵀ P d per row.
func (e *EllipticEnvelope) distances(rows [][]float64) []float64 {
	cols := len(e.Location)
	diff := make([]float64, cols)

	out := make([]float64, len(rows))
	for i, row := range rows {
		for j := range diff {
			diff[j] = row[j] - e.Location[j]
		}
		var total float64
		for a := 0; a < cols; a++ {
			var inner float64
			for b := 0; b < cols; b++ {
				inner += e.Precision[a][b] * diff[b]
			}
			total += diff[a] * inner
		}
		out[i] = total
	}
	return out
}
