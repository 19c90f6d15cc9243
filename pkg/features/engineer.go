// Package features computes per-series time features over the assembled
// dataset: trailing rolling statistics, a deviation score, lag features, and
// calendar fields.
//
// Rows are grouped by (building, meter) and each group is sorted by timestamp
// and processed independently, so groups run in parallel with no shared
// state. The rolling window is row-based (the most recent N observations in
// the group), not wall-clock based: BDG2-style data is nominally hourly but
// can contain gaps, and a row-based window tolerates them without imputation.
package features

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meterflow/meterflow/pkg/meter"
)

// DefaultWindow is the rolling window size in observations, nominally one
// week of hourly readings.
const DefaultWindow = 168

// Engineer computes feature vectors from enriched readings.
type Engineer struct {
	window  int
	epsilon float64
	workers int
}

// Option configures an Engineer.
type Option func(*Engineer)

// WithWorkers bounds the number of groups computed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engineer) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engineer. window is the rolling window size in observations
// (DefaultWindow if <= 0) and epsilon is the small positive constant added to
// the rolling standard deviation so the deviation score is always finite.
func New(window int, epsilon float64, opts ...Option) *Engineer {
	e := &Engineer{
		window:  window,
		epsilon: epsilon,
		workers: runtime.GOMAXPROCS(0),
	}
	if e.window <= 0 {
		e.window = DefaultWindow
	}
	if e.epsilon <= 0 {
		e.epsilon = 1e-8
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engineer computes one feature vector per input row. Output is ordered by
// (building, meter) key and then by timestamp within each series, so the
// result is deterministic regardless of input order or scheduling.
//
// Rows with insufficient history keep nil rolling/lag features; they are
// never removed here.
func (e *Engineer) Engineer(ctx context.Context, rows []meter.EnrichedReading) ([]meter.FeatureVector, error) {
	groups := make(map[meter.Key][]meter.EnrichedReading)
	for _, r := range rows {
		key := meter.Key{BuildingID: r.BuildingID, Meter: r.Meter}
		groups[key] = append(groups[key], r)
	}

	keys := make([]meter.Key, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BuildingID != keys[j].BuildingID {
			return keys[i].BuildingID < keys[j].BuildingID
		}
		return keys[i].Meter < keys[j].Meter
	})

	results := make([][]meter.FeatureVector, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.series(groups[key])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]meter.FeatureVector, 0, len(rows))
	for _, vectors := range results {
		out = append(out, vectors...)
	}
	return out, nil
}

// series computes features for one (building, meter) group. The window holds
// the observations strictly before the current row: with fewer than window
// prior points the statistics use whatever history exists, and with zero
// prior points they are nil.
func (e *Engineer) series(group []meter.EnrichedReading) []meter.FeatureVector {
	sort.Slice(group, func(i, j int) bool {
		return group[i].Timestamp.Before(group[j].Timestamp)
	})

	out := make([]meter.FeatureVector, len(group))

	// Running sums over the trailing window, updated in O(1) per row.
	var sum, sumSq float64
	for i, r := range group {
		fv := meter.FeatureVector{
			Timestamp:      r.Timestamp,
			BuildingID:     r.BuildingID,
			Meter:          r.Meter,
			Value:          r.Value,
			AirTemperature: r.AirTemperature,
			DewTemperature: r.DewTemperature,
			AreaSqm:        r.AreaSqm,
		}
		fillCalendar(&fv, r.Timestamp)

		start := i - e.window
		if start < 0 {
			start = 0
		}
		if n := i - start; n > 0 {
			mean := sum / float64(n)
			variance := sumSq/float64(n) - mean*mean
			if variance < 0 {
				variance = 0 // float round-off on near-constant windows
			}
			std := math.Sqrt(variance)
			deviation := (r.Value - mean) / (std + e.epsilon)
			fv.RollingMean = &mean
			fv.RollingStd = &std
			fv.Deviation = &deviation
		}

		if i >= 1 {
			fv.Lag1 = &group[i-1].Value
		}
		if i >= 24 {
			fv.Lag24 = &group[i-24].Value
		}

		out[i] = fv

		sum += r.Value
		sumSq += r.Value * r.Value
		if i >= e.window {
			evicted := group[i-e.window].Value
			sum -= evicted
			sumSq -= evicted * evicted
		}
	}
	return out
}

func fillCalendar(fv *meter.FeatureVector, ts time.Time) {
	fv.HourOfDay = int32(ts.Hour())
	fv.DayOfWeek = int32(ts.Weekday())
	fv.Month = int32(ts.Month())
	fv.IsWeekend = ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday
}
