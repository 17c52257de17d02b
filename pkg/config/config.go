package config

import (
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// Config represents the application configuration.
type Config struct {
	// Chunk planning configuration
	Planner PlannerConfig `yaml:"planner" mapstructure:"planner"`

	// Silence detection configuration
	Silence SilenceConfig `yaml:"silence" mapstructure:"silence"`

	// State store configuration
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Task dispatch configuration
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`

	// Pipeline coordination configuration
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`

	// Logging configuration
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
}

// PlannerConfig contains chunk boundary planning settings.
type PlannerConfig struct {
	TargetChunkMinutes int `yaml:"target_chunk_minutes" mapstructure:"target_chunk_minutes"`
	MaxChunkMinutes    int `yaml:"max_chunk_minutes" mapstructure:"max_chunk_minutes"`
	ThresholdMinutes   int `yaml:"threshold_minutes" mapstructure:"threshold_minutes"`
	SearchSlackSeconds int `yaml:"search_slack_seconds" mapstructure:"search_slack_seconds"`
	OverlapSeconds     int `yaml:"overlap_seconds" mapstructure:"overlap_seconds"`
}

// SilenceConfig contains silence detection settings.
type SilenceConfig struct {
	NoiseDB       float64 `yaml:"noise_db" mapstructure:"noise_db"`
	MinDurationMs int     `yaml:"min_duration_ms" mapstructure:"min_duration_ms"`
}

// StoreConfig contains state store settings.
type StoreConfig struct {
	// Path to the BoltDB state database
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// DispatchConfig contains task dispatch settings.
type DispatchConfig struct {
	// Worker endpoint chunk tasks are posted to
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Retry schedule for non-2xx responses
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// PipelineConfig contains coordination settings.
type PipelineConfig struct {
	// Processing mode (parallel, sequential)
	Mode string `yaml:"mode" mapstructure:"mode"`

	// Concurrent chunk workers in parallel mode
	Workers int `yaml:"workers" mapstructure:"workers"`

	// Backoff and attempt bound for sequential predecessor waits
	WaitBackoff     time.Duration `yaml:"wait_backoff" mapstructure:"wait_backoff"`
	MaxWaitAttempts int           `yaml:"max_wait_attempts" mapstructure:"max_wait_attempts"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Planner: PlannerConfig{
			TargetChunkMinutes: 15,
			MaxChunkMinutes:    20,
			SearchSlackSeconds: 120,
			OverlapSeconds:     30,
		},
		Silence: SilenceConfig{
			NoiseDB:       -30,
			MinDurationMs: 500,
		},
		Store: StoreConfig{
			DBPath: ".chunkscribe.db",
		},
		Dispatch: DispatchConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Mode:            "parallel",
			Workers:         3,
			WaitBackoff:     2 * time.Second,
			MaxWaitAttempts: 30,
		},
		Logging: *logger.DefaultConfig(),
	}
}
