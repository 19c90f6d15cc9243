package detectors

import (
	"context"
	"math"
	"sort"

	"github.com/meterflow/meterflow/pkg/meter"
)

const (
	defaultNeighbors = 20

	// lofMaxTrainRows caps the retained reference set. Neighbor search is
	// brute force, so scoring is O(rows × reference); past this size the fit
	// keeps a deterministic stride subsample instead of every row.
	lofMaxTrainRows = 8192
)

// LocalOutlierFactor compares each point's local density to the densities of
// its nearest neighbors. Points in sparser neighborhoods than their neighbors
// score above 1 and, past the contamination quantile, vote anomaly.
type LocalOutlierFactor struct {
	Neighbors     int
	Contamination float64

	FitCols    []string
	Train      [][]float64
	TrainLRD   []float64
	TrainKDist []float64
	Threshold  float64
}

// NewLocalOutlierFactor creates an unfitted LOF detector with the standard
// neighbor count.
func NewLocalOutlierFactor(contamination float64) *LocalOutlierFactor {
	return &LocalOutlierFactor{
		Neighbors:     defaultNeighbors,
		Contamination: contamination,
	}
}

func (l *LocalOutlierFactor) Name() string { return "local_outlier_factor" }

// Fit retains (a subsample of) the matrix as the reference set, precomputes
// each reference point's k-distance and local reachability density, and
// derives the anomaly threshold from the contamination quantile of the
// training LOF scores.
func (l *LocalOutlierFactor) Fit(ctx context.Context, m Matrix) error {
	if err := checkFitInput(l.Name(), m); err != nil {
		return err
	}

	train := m.Rows
	if len(train) > lofMaxTrainRows {
		stride := (len(train) + lofMaxTrainRows - 1) / lofMaxTrainRows
		sampled := make([][]float64, 0, lofMaxTrainRows)
		for i := 0; i < len(train); i += stride {
			sampled = append(sampled, train[i])
		}
		train = sampled
	}

	k := l.Neighbors
	if k >= len(train) {
		k = len(train) - 1
	}

	l.FitCols = append([]string(nil), m.Columns...)
	l.Train = make([][]float64, len(train))
	for i, row := range train {
		l.Train[i] = append([]float64(nil), row...)
	}

	// k-distance and LRD per reference point, neighbors searched among the
	// other reference points.
	l.TrainKDist = make([]float64, len(l.Train))
	neighborIdx := make([][]int, len(l.Train))
	neighborDist := make([][]float64, len(l.Train))
	for i := range l.Train {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, dist := l.nearest(l.Train[i], k, i)
		neighborIdx[i] = idx
		neighborDist[i] = dist
		l.TrainKDist[i] = dist[len(dist)-1]
	}

	l.TrainLRD = make([]float64, len(l.Train))
	for i := range l.Train {
		l.TrainLRD[i] = localReachabilityDensity(neighborIdx[i], neighborDist[i], l.TrainKDist)
	}

	scores := make([]float64, len(l.Train))
	for i := range l.Train {
		scores[i] = lofScore(neighborIdx[i], l.TrainLRD[i], l.TrainLRD)
	}
	l.Threshold = scoreThreshold(scores, l.Contamination)
	return nil
}

// Predict scores each row against the fitted reference set. A query that is
// itself a reference point matches at distance zero; that single match is
// skipped so scoring the training matrix reproduces the fit-time scores.
func (l *LocalOutlierFactor) Predict(ctx context.Context, m Matrix) ([]meter.Label, error) {
	if err := checkPredictInput(l.Name(), l.FitCols, m.Columns); err != nil {
		return nil, err
	}

	k := l.Neighbors
	if k >= len(l.Train) {
		k = len(l.Train) - 1
	}

	scores := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx, dist := l.nearest(row, k, -1)
		lrd := localReachabilityDensity(idx, dist, l.TrainKDist)
		scores[i] = lofScore(idx, lrd, l.TrainLRD)
	}
	return labelByThreshold(scores, l.Threshold), nil
}

// nearest returns the k nearest reference points to q and their distances,
// sorted ascending. exclude skips one reference index (-1 for none); an
// exact duplicate of a reference point additionally skips that single
// zero-distance match, treating it as the query itself.
func (l *LocalOutlierFactor) nearest(q []float64, k, exclude int) (indices []int, distances []float64) {
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, 0, len(l.Train))
	selfSkipped := exclude >= 0
	for i, p := range l.Train {
		if i == exclude {
			continue
		}
		d := math.Sqrt(euclideanSq(q, p))
		if !selfSkipped && d == 0 {
			selfSkipped = true
			continue
		}
		cands = append(cands, cand{idx: i, dist: d})
	}

	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})
	if k > len(cands) {
		k = len(cands)
	}

	indices = make([]int, k)
	distances = make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = cands[i].idx
		distances[i] = cands[i].dist
	}
	return indices, distances
}

// localReachabilityDensity is 1 over the mean reachability distance to the
// neighbors, where reach(q, p) = max(dist(q, p), kdist(p)).
func localReachabilityDensity(neighbors []int, distances []float64, kdist []float64) float64 {
	var sum float64
	for i, n := range neighbors {
		reach := distances[i]
		if kdist[n] > reach {
			reach = kdist[n]
		}
		sum += reach
	}
	mean := sum / float64(len(neighbors))
	if mean == 0 {
		// Dense duplicate cluster: every reachability distance is zero.
		return math.Inf(1)
	}
	return 1 / mean
}

// lofScore is the mean neighbor LRD over the query's LRD. Values near 1 mean
// the query is as dense as its neighborhood; larger values mean sparser.
func lofScore(neighbors []int, lrd float64, trainLRD []float64) float64 {
	var sum float64
	for _, n := range neighbors {
		sum += trainLRD[n]
	}
	meanNeighbor := sum / float64(len(neighbors))

	if math.IsInf(lrd, 1) {
		// The query sits inside a duplicate cluster; it cannot be sparser
		// than its neighbors.
		return 1
	}
	if math.IsInf(meanNeighbor, 1) {
		return math.Inf(1)
	}
	return meanNeighbor / lrd
}
