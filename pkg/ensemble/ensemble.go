// Package ensemble runs the scoring stage: robust scaling, three independent
// unsupervised detectors, and a fixed 2-of-3 majority vote per reading.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meterflow/meterflow/pkg/detectors"
	"github.com/meterflow/meterflow/pkg/meter"
	"github.com/meterflow/meterflow/pkg/storage"
)

// MajorityThreshold is the number of anomaly votes required for the final
// label. Fixed at 2 of 3.
const MajorityThreshold = 2

// DefaultFeatureColumns is the feature subset fed to the detectors. The
// ordered list used at fit time is persisted alongside the models so later
// scoring builds an identical matrix.
var DefaultFeatureColumns = []string{
	"value",
	"deviation",
	"rolling_mean_168h",
	"rolling_std_168h",
	"lag_1h",
	"lag_24h",
	"hour_of_day",
	"day_of_week",
}

// Artifact names for the persisted scaler, detectors, and column list.
const (
	scalerArtifact  = "model_scaler.json"
	columnsArtifact = "feature_columns.json"
)

// Result is the outcome of scoring one feature matrix.
type Result struct {
	Predictions []meter.Prediction
	// Incomplete counts rows excluded from fitting and scoring because at
	// least one selected feature was missing. They are reported, not scored.
	Incomplete int
	// Anomalies counts final anomaly labels.
	Anomalies int
	// VotesByDetector counts anomaly votes per detector.
	VotesByDetector map[string]int
}

// Ensemble owns the scaler and the fixed detector set.
type Ensemble struct {
	scaler    *detectors.RobustScaler
	detectors []detectors.Detector
	columns   []string
	logger    *slog.Logger
}

// New creates an ensemble over the given detector set, which must be the
// three-member set built by Detectors (or a fitted equivalent loaded from
// artifacts).
func New(set []detectors.Detector, columns []string, logger *slog.Logger) *Ensemble {
	if logger == nil {
		logger = slog.Default()
	}
	if len(columns) == 0 {
		columns = DefaultFeatureColumns
	}
	return &Ensemble{
		scaler:    &detectors.RobustScaler{},
		detectors: set,
		columns:   columns,
		logger:    logger,
	}
}

// Detectors builds the standard detector set from per-detector contamination
// rates.
func Detectors(contamForest, contamLOF, contamEnvelope float64, seed uint64) []detectors.Detector {
	return []detectors.Detector{
		detectors.NewIsolationForest(contamForest, seed),
		detectors.NewLocalOutlierFactor(contamLOF),
		detectors.NewEllipticEnvelope(contamEnvelope),
	}
}

// Score fits the scaler and all detectors on the complete rows of the input
// and returns one prediction per complete row. The scaler fit strictly
// precedes every detector fit; the detector fits and predictions then run
// concurrently, since they share no mutable state.
func (e *Ensemble) Score(ctx context.Context, vectors []meter.FeatureVector) (*Result, error) {
	matrix, scored, incomplete := buildMatrix(vectors, e.columns)
	e.logger.Info("scoring feature matrix",
		"rows", len(vectors),
		"complete", len(scored),
		"incomplete", incomplete,
		"columns", len(e.columns),
	)

	if len(matrix.Rows) < detectors.MinFitRows {
		return nil, &detectors.ModelFitError{
			Detector: "ensemble",
			Reason:   fmt.Sprintf("%d complete rows, need at least %d", len(matrix.Rows), detectors.MinFitRows),
		}
	}

	if err := e.scaler.Fit(matrix); err != nil {
		return nil, err
	}
	scaled, err := e.scaler.Transform(matrix)
	if err != nil {
		return nil, err
	}

	votes := make([][]meter.Label, len(e.detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range e.detectors {
		g.Go(func() error {
			start := time.Now()
			if err := d.Fit(gctx, scaled); err != nil {
				return err
			}
			labels, err := d.Predict(gctx, scaled)
			if err != nil {
				return err
			}
			votes[i] = labels
			e.logger.Info("detector finished",
				"detector", d.Name(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.combine(scored, votes, incomplete), nil
}

// Predict scores vectors with the already-fitted scaler and detectors, never
// refitting. This is the scoring path for an ensemble restored by Load; the
// persisted parameters are applied as-is.
func (e *Ensemble) Predict(ctx context.Context, vectors []meter.FeatureVector) (*Result, error) {
	matrix, scored, incomplete := buildMatrix(vectors, e.columns)

	scaled, err := e.scaler.Transform(matrix)
	if err != nil {
		return nil, err
	}

	votes := make([][]meter.Label, len(e.detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range e.detectors {
		g.Go(func() error {
			labels, err := d.Predict(gctx, scaled)
			if err != nil {
				return err
			}
			votes[i] = labels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.combine(scored, votes, incomplete), nil
}

// combine applies the majority rule to the per-detector votes.
func (e *Ensemble) combine(scored []meter.FeatureVector, votes [][]meter.Label, incomplete int) *Result {
	res := &Result{
		Predictions:     make([]meter.Prediction, len(scored)),
		Incomplete:      incomplete,
		VotesByDetector: make(map[string]int, len(e.detectors)),
	}

	for i, fv := range scored {
		p := meter.Prediction{
			Timestamp:  fv.Timestamp,
			BuildingID: fv.BuildingID,
			Meter:      fv.Meter,
		}

		row := make([]meter.Label, len(e.detectors))
		for d := range e.detectors {
			row[d] = votes[d][i]
			if row[d] == meter.LabelAnomaly {
				res.VotesByDetector[e.detectors[d].Name()]++
			}
			switch e.detectors[d].Name() {
			case "isolation_forest":
				p.VoteIsolationForest = row[d]
			case "local_outlier_factor":
				p.VoteLocalOutlierFactor = row[d]
			case "elliptic_envelope":
				p.VoteEllipticEnvelope = row[d]
			}
		}

		p.Label = CombineVotes(row)
		if p.Label == meter.LabelAnomaly {
			res.Anomalies++
		}
		res.Predictions[i] = p
	}
	return res
}

// CombineVotes applies the majority rule: anomaly iff at least
// MajorityThreshold of the votes are anomaly.
func CombineVotes(votes []meter.Label) meter.Label {
	count := 0
	for _, v := range votes {
		if v == meter.LabelAnomaly {
			count++
		}
	}
	if count >= MajorityThreshold {
		return meter.LabelAnomaly
	}
	return meter.LabelNormal
}

// Persist writes the fitted scaler, each fitted detector, and the ordered
// feature column list as artifacts, so later runs can score without
// refitting.
func (e *Ensemble) Persist(store *storage.Store) error {
	if err := store.WriteJSON(scalerArtifact, e.scaler); err != nil {
		return err
	}
	if err := store.WriteJSON(columnsArtifact, e.columns); err != nil {
		return err
	}
	for _, d := range e.detectors {
		if err := store.WriteGob(detectorArtifact(d.Name()), d); err != nil {
			return err
		}
	}
	return nil
}

// Load restores a fitted ensemble from artifacts written by Persist.
func Load(store *storage.Store, logger *slog.Logger) (*Ensemble, error) {
	var columns []string
	if err := store.ReadJSON(columnsArtifact, &columns); err != nil {
		return nil, err
	}

	forest := &detectors.IsolationForest{}
	if err := store.ReadGob(detectorArtifact(forest.Name()), forest); err != nil {
		return nil, err
	}
	lof := &detectors.LocalOutlierFactor{}
	if err := store.ReadGob(detectorArtifact(lof.Name()), lof); err != nil {
		return nil, err
	}
	envelope := &detectors.EllipticEnvelope{}
	if err := store.ReadGob(detectorArtifact(envelope.Name()), envelope); err != nil {
		return nil, err
	}

	e := New([]detectors.Detector{forest, lof, envelope}, columns, logger)
	if err := store.ReadJSON(scalerArtifact, e.scaler); err != nil {
		return nil, err
	}
	return e, nil
}

func detectorArtifact(name string) string {
	return "model_" + name + ".gob"
}

// buildMatrix extracts the selected feature columns from the vectors,
// excluding rows with any missing feature. It returns the matrix, the
// vectors that made it in (aligned with matrix rows), and the excluded count.
func buildMatrix(vectors []meter.FeatureVector, columns []string) (detectors.Matrix, []meter.FeatureVector, int) {
	matrix := detectors.Matrix{Columns: columns}
	var scored []meter.FeatureVector
	incomplete := 0

	for _, fv := range vectors {
		row := make([]float64, len(columns))
		ok := true
		for j, col := range columns {
			v, present := featureValue(fv, col)
			if !present {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			incomplete++
			continue
		}
		matrix.Rows = append(matrix.Rows, row)
		scored = append(scored, fv)
	}
	return matrix, scored, incomplete
}

// featureValue resolves a feature column by name. Nil-able features report
// present=false when unset.
func featureValue(fv meter.FeatureVector, col string) (float64, bool) {
	switch col {
	case "value":
		return fv.Value, true
	case "rolling_mean_168h":
		return deref(fv.RollingMean)
	case "rolling_std_168h":
		return deref(fv.RollingStd)
	case "deviation":
		return deref(fv.Deviation)
	case "lag_1h":
		return deref(fv.Lag1)
	case "lag_24h":
		return deref(fv.Lag24)
	case "hour_of_day":
		return float64(fv.HourOfDay), true
	case "day_of_week":
		return float64(fv.DayOfWeek), true
	case "month":
		return float64(fv.Month), true
	case "is_weekend":
		if fv.IsWeekend {
			return 1, true
		}
		return 0, true
	case "air_temperature":
		return deref(fv.AirTemperature)
	case "dew_temperature":
		return deref(fv.DewTemperature)
	case "area_sqm":
		return deref(fv.AreaSqm)
	default:
		return 0, false
	}
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
