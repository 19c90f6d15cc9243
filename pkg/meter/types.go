// Package meter defines the core data model shared across pipeline stages:
// raw readings, reference tables, enriched rows, feature vectors, and
// prediction records. The structs carry parquet tags because every durable
// pipeline artifact is a columnar file of one of these row types.
package meter

import "time"

// MeterType identifies the kind of energy meter a reading came from.
// The value is taken verbatim from the raw wide-table name (one table per
// meter kind), so new meter kinds never require a code change.
type MeterType string

// Meter types present in BDG2-style datasets.
const (
	Electricity  MeterType = "electricity"
	ChilledWater MeterType = "chilledwater"
	Steam        MeterType = "steam"
	HotWater     MeterType = "hotwater"
	Gas          MeterType = "gas"
	Water        MeterType = "water"
	Irrigation   MeterType = "irrigation"
	Solar        MeterType = "solar"
)

// Label is a binary anomaly classification for one reading.
type Label string

const (
	LabelNormal  Label = "normal"
	LabelAnomaly Label = "anomaly"
)

// Reading is one long-format meter observation. The triple
// (BuildingID, Meter, Timestamp) uniquely identifies a reading.
type Reading struct {
	Timestamp  time.Time `parquet:"timestamp"`
	BuildingID string    `parquet:"building_id,dict"`
	Meter      MeterType `parquet:"meter_type,dict"`
	Value      float64   `parquet:"value"`
}

// BuildingMetadata is the static per-building reference record. It is loaded
// once per run and never mutated by the pipeline.
type BuildingMetadata struct {
	BuildingID        string `parquet:"building_id,dict"`
	SiteID            string `parquet:"site_id,dict"`
	PrimarySpaceUsage string `parquet:"primary_space_usage,dict"`
	// AreaSqm is nil when the metadata table has no floor area for the building.
	AreaSqm  *float64 `parquet:"area_sqm,optional"`
	Timezone string   `parquet:"timezone,dict"`
}

// WeatherObservation is one hourly weather record for a site. The pair
// (SiteID, Timestamp) must be unique so the weather join is deterministic.
type WeatherObservation struct {
	SiteID           string    `parquet:"site_id,dict"`
	Timestamp        time.Time `parquet:"timestamp"`
	AirTemperature   *float64  `parquet:"air_temperature,optional"`
	DewTemperature   *float64  `parquet:"dew_temperature,optional"`
	WindSpeed        *float64  `parquet:"wind_speed,optional"`
	WindDirection    *float64  `parquet:"wind_direction,optional"`
	CloudCoverage    *float64  `parquet:"cloud_coverage,optional"`
	PrecipDepth1Hr   *float64  `parquet:"precip_depth_1hr,optional"`
	SeaLevelPressure *float64  `parquet:"sea_level_pressure,optional"`
}

// EnrichedReading is a Reading joined with its building metadata and, when a
// match exists, the site weather for the same hour. Weather fields are nil
// when the (site, timestamp) pair has no weather record; metadata fields are
// always populated because readings without metadata are dropped upstream.
type EnrichedReading struct {
	Timestamp         time.Time `parquet:"timestamp"`
	BuildingID        string    `parquet:"building_id,dict"`
	Meter             MeterType `parquet:"meter_type,dict"`
	Value             float64   `parquet:"value"`
	SiteID            string    `parquet:"site_id,dict"`
	PrimarySpaceUsage string    `parquet:"primary_space_usage,dict"`
	AreaSqm           *float64  `parquet:"area_sqm,optional"`
	Timezone          string    `parquet:"timezone,dict"`
	AirTemperature    *float64  `parquet:"air_temperature,optional"`
	DewTemperature    *float64  `parquet:"dew_temperature,optional"`
	WindSpeed         *float64  `parquet:"wind_speed,optional"`
	WindDirection     *float64  `parquet:"wind_direction,optional"`
	CloudCoverage     *float64  `parquet:"cloud_coverage,optional"`
	PrecipDepth1Hr    *float64  `parquet:"precip_depth_1hr,optional"`
	SeaLevelPressure  *float64  `parquet:"sea_level_pressure,optional"`
}

// FeatureVector is the per-reading feature record produced by the feature
// engineering stage. Rolling and lag features are nil until enough history
// exists in the (building, meter) series; such rows are kept, not removed.
type FeatureVector struct {
	Timestamp  time.Time `parquet:"timestamp"`
	BuildingID string    `parquet:"building_id,dict"`
	Meter      MeterType `parquet:"meter_type,dict"`
	Value      float64   `parquet:"value"`

	RollingMean *float64 `parquet:"rolling_mean_168h,optional"`
	RollingStd  *float64 `parquet:"rolling_std_168h,optional"`
	Deviation   *float64 `parquet:"deviation,optional"`
	Lag1        *float64 `parquet:"lag_1h,optional"`
	Lag24       *float64 `parquet:"lag_24h,optional"`

	HourOfDay int32 `parquet:"hour_of_day"`
	DayOfWeek int32 `parquet:"day_of_week"`
	Month     int32 `parquet:"month"`
	IsWeekend bool  `parquet:"is_weekend"`

	AirTemperature *float64 `parquet:"air_temperature,optional"`
	DewTemperature *float64 `parquet:"dew_temperature,optional"`
	AreaSqm        *float64 `parquet:"area_sqm,optional"`
}

// Prediction is the scoring output for one reading: one vote per detector in
// the fixed ensemble plus the majority-vote label.
type Prediction struct {
	Timestamp  time.Time `parquet:"timestamp"`
	BuildingID string    `parquet:"building_id,dict"`
	Meter      MeterType `parquet:"meter_type,dict"`

	VoteIsolationForest    Label `parquet:"vote_isolation_forest,dict"`
	VoteLocalOutlierFactor Label `parquet:"vote_local_outlier_factor,dict"`
	VoteEllipticEnvelope   Label `parquet:"vote_elliptic_envelope,dict"`

	Label Label `parquet:"label,dict"`
}

// Key identifies one (building, meter) time series.
type Key struct {
	BuildingID string
	Meter      MeterType
}
