package config

import (
	"testing"
)

func validConfig() *Config {
	return &Config{
		RawDir:                "/data/raw",
		MetadataPath:          "/data/metadata.csv",
		WeatherPath:           "/data/weather.csv",
		OutDir:                "./artifacts",
		ChunkSize:             50,
		SampleRate:            0.1,
		RollingWindow:         168,
		Epsilon:               1e-8,
		ContaminationForest:   0.05,
		ContaminationLOF:      0.05,
		ContaminationEnvelope: 0.05,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v, want nil", err)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative chunk size", func(c *Config) { c.ChunkSize = -1 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.5 }},
		{"zero rolling window", func(c *Config) { c.RollingWindow = 0 }},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }},
		{"zero contamination", func(c *Config) { c.ContaminationForest = 0 }},
		{"contamination at half", func(c *Config) { c.ContaminationLOF = 0.5 }},
		{"contamination above half", func(c *Config) { c.ContaminationEnvelope = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidate_BoundaryValues(t *testing.T) {
	cfg := validConfig()
	cfg.SampleRate = 1 // full retention is allowed
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with sample rate 1 = %v, want nil", err)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("METERFLOW_TEST_STR", "hello")
	if got := getEnv("METERFLOW_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("getEnv() = %q, want %q", got, "hello")
	}
	if got := getEnv("METERFLOW_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("METERFLOW_TEST_INT", "250")
	if got := getEnvInt("METERFLOW_TEST_INT", 50); got != 250 {
		t.Errorf("getEnvInt() = %d, want 250", got)
	}

	t.Setenv("METERFLOW_TEST_INT", "not-a-number")
	if got := getEnvInt("METERFLOW_TEST_INT", 50); got != 50 {
		t.Errorf("getEnvInt() on garbage = %d, want default 50", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("METERFLOW_TEST_FLOAT", "0.25")
	if got := getEnvFloat("METERFLOW_TEST_FLOAT", 0.1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
}

func TestGetEnvUint(t *testing.T) {
	t.Setenv("METERFLOW_TEST_UINT", "42")
	if got := getEnvUint("METERFLOW_TEST_UINT", 0); got != 42 {
		t.Errorf("getEnvUint() = %d, want 42", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"0", false},
		{"false", false},
		{"yes", false},
	}
	for _, tt := range tests {
		t.Setenv("METERFLOW_TEST_BOOL", tt.value)
		if got := getEnvBool("METERFLOW_TEST_BOOL", false); got != tt.want {
			t.Errorf("getEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
