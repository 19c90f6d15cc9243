package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestCSVWideTable_Columns(t *testing.T) {
	path := writeFixture(t, "electricity.csv",
		"timestamp,B1,B2,B3\n"+
			"2016-01-01 00:00:00,1.0,2.0,3.0\n")

	table := &CSVWideTable{Path: path}

	cols, err := table.Columns()
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	want := []string{"B1", "B2", "B3"}
	if len(cols) != len(want) {
		t.Fatalf("Columns() = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("Columns()[%d] = %q, want %q", i, cols[i], want[i])
		}
	}
}

func TestCSVWideTable_MissingTimestampColumn(t *testing.T) {
	path := writeFixture(t, "electricity.csv",
		"time,B1,B2\n"+
			"2016-01-01 00:00:00,1.0,2.0\n")

	table := &CSVWideTable{Path: path}

	_, err := table.Columns()
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Columns() error = %v, want *SchemaError", err)
	}
	if schemaErr.Column != "timestamp" {
		t.Errorf("SchemaError.Column = %q, want %q", schemaErr.Column, "timestamp")
	}
}

func TestCSVWideTable_Scan(t *testing.T) {
	path := writeFixture(t, "electricity.csv",
		"timestamp,B1,B2,B3\n"+
			"2016-01-01 00:00:00,1.5,,3.5\n"+
			"2016-01-01 01:00:00,2.5,4.5,\n")

	table := &CSVWideTable{Path: path}

	type row struct {
		ts      time.Time
		values  []float64
		present []bool
	}
	var rows []row
	err := table.Scan([]string{"B1", "B2"}, func(ts time.Time, values []float64, present []bool) error {
		rows = append(rows, row{
			ts:      ts,
			values:  append([]float64(nil), values...),
			present: append([]bool(nil), present...),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("Scan() visited %d rows, want 2", len(rows))
	}
	if rows[0].values[0] != 1.5 || !rows[0].present[0] {
		t.Errorf("row 0 B1 = (%v, %v), want (1.5, true)", rows[0].values[0], rows[0].present[0])
	}
	if rows[0].present[1] {
		t.Error("row 0 B2 should be absent")
	}
	if rows[1].values[1] != 4.5 || !rows[1].present[1] {
		t.Errorf("row 1 B2 = (%v, %v), want (4.5, true)", rows[1].values[1], rows[1].present[1])
	}
	if got := rows[0].ts; got != time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("row 0 timestamp = %v", got)
	}
}

func TestCSVWideTable_Name(t *testing.T) {
	table := &CSVWideTable{Path: "/data/raw/chilledwater.csv"}
	if got := table.Name(); got != "chilledwater" {
		t.Errorf("Name() = %q, want %q", got, "chilledwater")
	}
}

func TestLoadMetadata(t *testing.T) {
	path := writeFixture(t, "metadata.csv",
		"building_id,site_id,primary_space_usage,area,timezone\n"+
			"B1,S1,Office,1200.5,US/Eastern\n"+
			"B2,S1,Education,,US/Eastern\n")

	metadata, err := LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if len(metadata) != 2 {
		t.Fatalf("LoadMetadata() returned %d rows, want 2", len(metadata))
	}
	if metadata[0].BuildingID != "B1" || metadata[0].SiteID != "S1" {
		t.Errorf("row 0 = %+v", metadata[0])
	}
	if metadata[0].AreaSqm == nil || *metadata[0].AreaSqm != 1200.5 {
		t.Errorf("row 0 area = %v, want 1200.5", metadata[0].AreaSqm)
	}
	if metadata[1].AreaSqm != nil {
		t.Errorf("row 1 area = %v, want nil", *metadata[1].AreaSqm)
	}
}

func TestLoadMetadata_DuplicateBuilding(t *testing.T) {
	path := writeFixture(t, "metadata.csv",
		"building_id,site_id,primary_space_usage,area,timezone\n"+
			"B1,S1,Office,100,UTC\n"+
			"B1,S2,Office,200,UTC\n")

	if _, err := LoadMetadata(path); err == nil {
		t.Fatal("LoadMetadata() should reject duplicate building_id")
	}
}

func TestLoadWeather(t *testing.T) {
	path := writeFixture(t, "weather.csv",
		"site_id,timestamp,air_temperature,dew_temperature,wind_speed,wind_direction,cloud_coverage,precip_depth_1hr,sea_level_pressure\n"+
			"S1,2016-01-01 00:00:00,5.0,1.0,3.2,180,4,,1020.1\n")

	weather, err := LoadWeather(path)
	if err != nil {
		t.Fatalf("LoadWeather() error = %v", err)
	}
	if len(weather) != 1 {
		t.Fatalf("LoadWeather() returned %d rows, want 1", len(weather))
	}
	w := weather[0]
	if w.SiteID != "S1" {
		t.Errorf("SiteID = %q, want %q", w.SiteID, "S1")
	}
	if w.AirTemperature == nil || *w.AirTemperature != 5.0 {
		t.Errorf("AirTemperature = %v, want 5.0", w.AirTemperature)
	}
	if w.PrecipDepth1Hr != nil {
		t.Errorf("PrecipDepth1Hr = %v, want nil", *w.PrecipDepth1Hr)
	}
}

func TestLoadWeather_MissingColumn(t *testing.T) {
	path := writeFixture(t, "weather.csv",
		"site_id,timestamp,air_temperature\n"+
			"S1,2016-01-01 00:00:00,5.0\n")

	_, err := LoadWeather(path)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("LoadWeather() error = %v, want *SchemaError", err)
	}
}

func TestDiscoverWideTables(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"electricity.csv", "gas.csv", "metadata.csv", "weather.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("timestamp\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tables, err := DiscoverWideTables(dir)
	if err != nil {
		t.Fatalf("DiscoverWideTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("DiscoverWideTables() found %d tables, want 2 (reference tables excluded)", len(tables))
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2016-01-01 12:00:00", time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"2016-01-01T12:00:00Z", time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.input)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error = %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Error("ParseTimestamp should fail on garbage input")
	}
}
