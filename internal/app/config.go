package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/medallion/internal/partition"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	DefinitionsPath string // hcl files; empty uses the embedded pipelines
	StateDBPath     string // runs, task instances and watermarks
	DataRoot        string // landing and transformed zones

	// Values exposed to definitions as var.*.
	SourceDB       string
	ServingDB      string
	APIBaseURL     string
	APIToken       string
	StartPartition string

	ListenAddr       string
	ScheduleInterval time.Duration
	MaxParallel      int
	PoolCapacity     int64

	LogFormat string
	LogLevel  string
}

// NewConfig validates cfg and fills in defaults for optional fields.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.StateDBPath == "" {
		return nil, errors.New("StateDBPath is a required configuration field and cannot be empty")
	}
	if cfg.DataRoot == "" {
		return nil, errors.New("DataRoot is a required configuration field and cannot be empty")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("MaxParallel must not be negative, got %d", cfg.MaxParallel)
	}
	if cfg.PoolCapacity < 0 {
		return nil, fmt.Errorf("PoolCapacity must not be negative, got %d", cfg.PoolCapacity)
	}
	if cfg.ScheduleInterval < 0 {
		return nil, fmt.Errorf("ScheduleInterval must not be negative, got %s", cfg.ScheduleInterval)
	}
	if cfg.StartPartition != "" {
		if _, err := partition.Parse(cfg.StartPartition); err != nil {
			return nil, fmt.Errorf("StartPartition: %w", err)
		}
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "json"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LogFormat %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LogLevel %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	return &cfg, nil
}

// Vars returns the values definitions can reference as var.<name>. An
// unset start partition falls back to yesterday, so a fresh install begins
// with the most recent complete day.
func (c *Config) Vars(now time.Time) map[string]string {
	start := c.StartPartition
	if start == "" {
		start = partition.Day(now.AddDate(0, 0, -1)).String()
	}
	return map[string]string{
		"start_partition": start,
		"source_db":       c.SourceDB,
		"serving_db":      c.ServingDB,
		"api_base_url":    c.APIBaseURL,
		"api_token":       c.APIToken,
		"data_root":       c.DataRoot,
	}
}
