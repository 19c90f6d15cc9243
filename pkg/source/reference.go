package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/meterflow/meterflow/pkg/meter"
)

// LoadMetadata reads the building metadata table. Duplicate building_id rows
// are an error because the metadata join must be deterministic.
func LoadMetadata(path string) ([]meter.BuildingMetadata, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	idx, err := columnIndex(path, header, "building_id", "site_id", "primary_space_usage", "area", "timezone")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	out := make([]meter.BuildingMetadata, 0, len(rows))
	for line, record := range rows {
		id := record[idx["building_id"]]
		if seen[id] {
			return nil, fmt.Errorf("%s line %d: duplicate building_id %q", path, line+2, id)
		}
		seen[id] = true

		out = append(out, meter.BuildingMetadata{
			BuildingID:        id,
			SiteID:            record[idx["site_id"]],
			PrimarySpaceUsage: record[idx["primary_space_usage"]],
			AreaSqm:           optionalFloat(record[idx["area"]]),
			Timezone:          record[idx["timezone"]],
		})
	}
	return out, nil
}

// LoadWeather reads the site weather table. Key uniqueness is enforced by the
// enricher when it builds its index, not here.
func LoadWeather(path string) ([]meter.WeatherObservation, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	idx, err := columnIndex(path, header, "site_id", "timestamp",
		"air_temperature", "dew_temperature", "wind_speed", "wind_direction",
		"cloud_coverage", "precip_depth_1hr", "sea_level_pressure")
	if err != nil {
		return nil, err
	}

	out := make([]meter.WeatherObservation, 0, len(rows))
	for line, record := range rows {
		ts, err := ParseTimestamp(record[idx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+2, err)
		}
		out = append(out, meter.WeatherObservation{
			SiteID:           record[idx["site_id"]],
			Timestamp:        ts,
			AirTemperature:   optionalFloat(record[idx["air_temperature"]]),
			DewTemperature:   optionalFloat(record[idx["dew_temperature"]]),
			WindSpeed:        optionalFloat(record[idx["wind_speed"]]),
			WindDirection:    optionalFloat(record[idx["wind_direction"]]),
			CloudCoverage:    optionalFloat(record[idx["cloud_coverage"]]),
			PrecipDepth1Hr:   optionalFloat(record[idx["precip_depth_1hr"]]),
			SeaLevelPressure: optionalFloat(record[idx["sea_level_pressure"]]),
		})
	}
	return out, nil
}

func readCSV(path string) (rows [][]string, header []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err = r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, header, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, record)
	}
}

func columnIndex(table string, header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, &SchemaError{Table: table, Column: col}
		}
	}
	return idx, nil
}

func optionalFloat(cell string) *float64 {
	if cell == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil
	}
	return &v
}
