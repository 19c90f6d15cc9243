package detectors

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/meterflow/meterflow/pkg/meter"
)

const (
	defaultTrees     = 100
	defaultSubsample = 256
)

// IsoNode is one node of an isolation tree. Exported so forests round-trip
// through gob when persisted as model artifacts.
type IsoNode struct {
	// SplitCol and SplitVal define the split at internal nodes.
	SplitCol int
	SplitVal float64
	Left     *IsoNode
	Right    *IsoNode
	// Size is the number of training points that reached an external node.
	Size int
}

// IsolationForest isolates anomalies by random recursive splitting: points
// that separate from the rest in few splits get short average path lengths
// and therefore high anomaly scores.
type IsolationForest struct {
	Trees         int
	SubsampleSize int
	Contamination float64
	Seed          uint64

	Forest  []*IsoNode
	FitCols []string
	// FitSample is the effective subsample size used at fit time: at most
	// SubsampleSize, never more than the training row count. It normalizes
	// path lengths in the anomaly score.
	FitSample int
	Threshold float64
}

// NewIsolationForest creates an unfitted forest with the standard tree count
// and subsample size.
func NewIsolationForest(contamination float64, seed uint64) *IsolationForest {
	return &IsolationForest{
		Trees:         defaultTrees,
		SubsampleSize: defaultSubsample,
		Contamination: contamination,
		Seed:          seed,
	}
}

func (f *IsolationForest) Name() string { return "isolation_forest" }

// Fit grows the forest on subsamples of the matrix and derives the anomaly
// threshold from the contamination quantile of the training scores.
func (f *IsolationForest) Fit(ctx context.Context, m Matrix) error {
	if err := checkFitInput(f.Name(), m); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15))
	rows, _ := m.Dims()

	sample := f.SubsampleSize
	if sample > rows {
		sample = rows
	}
	f.FitSample = sample
	depthLimit := int(math.Ceil(math.Log2(float64(sample))))

	f.Forest = make([]*IsoNode, f.Trees)
	for t := range f.Forest {
		if err := ctx.Err(); err != nil {
			return err
		}
		indices := rng.Perm(rows)[:sample]
		points := make([][]float64, sample)
		for i, idx := range indices {
			points[i] = m.Rows[idx]
		}
		f.Forest[t] = growTree(points, 0, depthLimit, rng)
	}

	f.FitCols = append([]string(nil), m.Columns...)

	scores := f.scores(m.Rows)
	f.Threshold = scoreThreshold(scores, f.Contamination)
	return nil
}

// Predict labels each row by comparing its anomaly score to the fitted
// threshold.
func (f *IsolationForest) Predict(ctx context.Context, m Matrix) ([]meter.Label, error) {
	if err := checkPredictInput(f.Name(), f.FitCols, m.Columns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return labelByThreshold(f.scores(m.Rows), f.Threshold), nil
}

// scores computes s(x) = 2^(−E[h(x)]/c(ψ)) per row, the standard isolation
// forest anomaly score in (0, 1].
func (f *IsolationForest) scores(rows [][]float64) []float64 {
	norm := avgPathLength(f.FitSample)

	out := make([]float64, len(rows))
	for i, row := range rows {
		var total float64
		for _, root := range f.Forest {
			total += pathLength(root, row, 0)
		}
		mean := total / float64(len(f.Forest))
		out[i] = math.Exp2(-mean / norm)
	}
	return out
}

func growTree(points [][]float64, depth, limit int, rng *rand.Rand) *IsoNode {
	if depth >= limit || len(points) <= 1 || allIdentical(points) {
		return &IsoNode{Size: len(points)}
	}

	cols := len(points[0])
	col := rng.IntN(cols)

	lo, hi := points[0][col], points[0][col]
	for _, p := range points[1:] {
		if p[col] < lo {
			lo = p[col]
		}
		if p[col] > hi {
			hi = p[col]
		}
	}
	if lo == hi {
		// Constant along the chosen column; retrying other columns is what
		// allIdentical already rules out, so just terminate.
		return &IsoNode{Size: len(points)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[col] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	return &IsoNode{
		SplitCol: col,
		SplitVal: split,
		Left:     growTree(left, depth+1, limit, rng),
		Right:    growTree(right, depth+1, limit, rng),
	}
}

func pathLength(n *IsoNode, row []float64, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + avgPathLength(n.Size)
	}
	if row[n.SplitCol] < n.SplitVal {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points. It normalizes path lengths across subsample sizes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(points [][]float64) bool {
	first := points[0]
	for _, p := range points[1:] {
		for j := range p {
			if p[j] != first[j] {
				return false
			}
		}
	}
	return true
}
