// Package enrich joins long-format reading batches against the building
// metadata and site weather reference tables. The join is stateless per
// batch, preserving the melter's memory bound: nothing flows between batches.
package enrich

import (
	"fmt"
	"time"

	"github.com/meterflow/meterflow/pkg/meter"
)

// weatherKey identifies one weather observation. Timestamps are compared at
// Unix-second resolution so that equal instants with different wall-clock
// representations still match.
type weatherKey struct {
	site string
	unix int64
}

// Result is the outcome of enriching one batch. Row count never exceeds the
// input batch; the difference is exactly DroppedNoMetadata.
type Result struct {
	Rows []meter.EnrichedReading
	// DroppedNoMetadata counts readings whose building has no metadata
	// entry. Those rows are removed: without metadata there is no site_id to
	// group by or join weather on.
	DroppedNoMetadata int
	// MissingWeather counts retained rows whose (site, timestamp) pair had
	// no weather record. Their weather fields are nil.
	MissingWeather int
}

// Enricher holds the two read-only reference indexes for the whole run.
type Enricher struct {
	metadata map[string]meter.BuildingMetadata
	weather  map[weatherKey]meter.WeatherObservation
}

// New indexes the reference tables. Duplicate (site, timestamp) weather keys
// are rejected: the weather join must be deterministic.
func New(metadata []meter.BuildingMetadata, weather []meter.WeatherObservation) (*Enricher, error) {
	e := &Enricher{
		metadata: make(map[string]meter.BuildingMetadata, len(metadata)),
		weather:  make(map[weatherKey]meter.WeatherObservation, len(weather)),
	}
	for _, md := range metadata {
		if _, ok := e.metadata[md.BuildingID]; ok {
			return nil, fmt.Errorf("duplicate metadata for building %q", md.BuildingID)
		}
		e.metadata[md.BuildingID] = md
	}
	for _, w := range weather {
		key := weatherKey{site: w.SiteID, unix: w.Timestamp.Unix()}
		if _, ok := e.weather[key]; ok {
			return nil, fmt.Errorf("duplicate weather for site %q at %s", w.SiteID, w.Timestamp.Format(time.RFC3339))
		}
		e.weather[key] = w
	}
	return e, nil
}

// Enrich left-joins one batch against metadata and weather. Readings without
// metadata are dropped and counted; readings without weather keep nil weather
// fields and are counted, not dropped.
func (e *Enricher) Enrich(batch []meter.Reading) Result {
	res := Result{Rows: make([]meter.EnrichedReading, 0, len(batch))}

	for _, r := range batch {
		md, ok := e.metadata[r.BuildingID]
		if !ok {
			res.DroppedNoMetadata++
			continue
		}

		row := meter.EnrichedReading{
			Timestamp:         r.Timestamp,
			BuildingID:        r.BuildingID,
			Meter:             r.Meter,
			Value:             r.Value,
			SiteID:            md.SiteID,
			PrimarySpaceUsage: md.PrimarySpaceUsage,
			AreaSqm:           md.AreaSqm,
			Timezone:          md.Timezone,
		}

		if w, ok := e.weather[weatherKey{site: md.SiteID, unix: r.Timestamp.Unix()}]; ok {
			row.AirTemperature = w.AirTemperature
			row.DewTemperature = w.DewTemperature
			row.WindSpeed = w.WindSpeed
			row.WindDirection = w.WindDirection
			row.CloudCoverage = w.CloudCoverage
			row.PrecipDepth1Hr = w.PrecipDepth1Hr
			row.SeaLevelPressure = w.SeaLevelPressure
		} else {
			res.MissingWeather++
		}

		res.Rows = append(res.Rows, row)
	}
	return res
}
