// Package config implements the meterflow pipeline config.
package config

import (
	"flag"
	"fmt"
	"os"
)

// Config holds all pipeline configuration.
type Config struct {
	RawDir       string
	MetadataPath string
	WeatherPath  string
	OutDir       string

	ChunkSize     int
	SampleRate    float64
	RollingWindow int
	Epsilon       float64

	ContaminationForest   float64
	ContaminationLOF      float64
	ContaminationEnvelope float64

	Seed   uint64
	Resume bool

	Listen    string
	LogFormat string
	LogLevel  string
}

// ParseFlags parses command-line flags and environment variables into a
// Config. Exits with status 1 if required flags are missing or out of range.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	// Inputs
	flag.StringVar(&cfg.RawDir, "raw-dir", getEnv("RAW_DIR", ""), "Directory with wide meter CSV tables (required)")
	flag.StringVar(&cfg.MetadataPath, "metadata", getEnv("METADATA_PATH", ""), "Building metadata CSV (required)")
	flag.StringVar(&cfg.WeatherPath, "weather", getEnv("WEATHER_PATH", ""), "Site weather CSV (required)")
	flag.StringVar(&cfg.OutDir, "out-dir", getEnv("OUT_DIR", "./artifacts"), "Artifact output directory")

	// Pipeline parameters
	flag.IntVar(&cfg.ChunkSize, "chunk-size", getEnvInt("CHUNK_SIZE", 50), "Building columns per melt batch")
	flag.Float64Var(&cfg.SampleRate, "sample-rate", getEnvFloat("SAMPLE_RATE", 0.1), "Row sampling rate in (0, 1]")
	flag.IntVar(&cfg.RollingWindow, "rolling-window", getEnvInt("ROLLING_WINDOW", 168), "Rolling window size in observations")
	flag.Float64Var(&cfg.Epsilon, "epsilon", getEnvFloat("EPSILON", 1e-8), "Deviation denominator guard (> 0)")

	// Detectors
	flag.Float64Var(&cfg.ContaminationForest, "contamination-forest", getEnvFloat("CONTAMINATION_FOREST", 0.05), "Isolation forest contamination rate")
	flag.Float64Var(&cfg.ContaminationLOF, "contamination-lof", getEnvFloat("CONTAMINATION_LOF", 0.05), "Local outlier factor contamination rate")
	flag.Float64Var(&cfg.ContaminationEnvelope, "contamination-envelope", getEnvFloat("CONTAMINATION_ENVELOPE", 0.05), "Elliptic envelope contamination rate")

	// Run behavior
	flag.Uint64Var(&cfg.Seed, "seed", getEnvUint("SEED", 0), "Random seed for sampling and fitting (0 = deterministic stride sampling)")
	flag.BoolVar(&cfg.Resume, "resume", getEnvBool("RESUME", false), "Skip stages whose output artifacts already exist")

	// Server
	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8090"), "HTTP listen address for health/metrics/summary")

	// Logging
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	if cfg.RawDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --raw-dir is required")
		os.Exit(1)
	}
	if cfg.MetadataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --metadata is required")
		os.Exit(1)
	}
	if cfg.WeatherPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --weather is required")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks the numeric option ranges.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be > 0, got %d", c.ChunkSize)
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample-rate must be in (0, 1], got %v", c.SampleRate)
	}
	if c.RollingWindow <= 0 {
		return fmt.Errorf("rolling-window must be > 0, got %d", c.RollingWindow)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be > 0, got %v", c.Epsilon)
	}
	for name, v := range map[string]float64{
		"contamination-forest":   c.ContaminationForest,
		"contamination-lof":      c.ContaminationLOF,
		"contamination-envelope": c.ContaminationEnvelope,
	} {
		if v <= 0 || v >= 0.5 {
			return fmt.Errorf("%s must be in (0, 0.5), got %v", name, v)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		var u uint64
		if _, err := fmt.Sscanf(value, "%d", &u); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "1" || value == "true"
	}
	return defaultValue
}
