package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Loader handles configuration loading and management.
type Loader struct {
	configPath string
	viper      *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	v.SetEnvPrefix("CHUNKSCRIBE")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chunkscribe")
		v.SetConfigName(".chunkscribe")
		v.SetConfigType("yaml")
	}

	return &Loader{
		configPath: configPath,
		viper:      v,
	}
}

// Load reads and returns the configuration.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	// Config file not found is not an error; defaults and env vars apply.
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithOverrides loads configuration with command-line overrides.
func (l *Loader) LoadWithOverrides(overrides map[string]interface{}) (*Config, error) {
	cfg, err := l.Load()
	if err != nil {
		return nil, err
	}

	for key, value := range overrides {
		l.viper.Set(key, value)
	}

	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config with overrides: %w", err)
	}

	return cfg, nil
}

func (l *Loader) setDefaults() {
	def := DefaultConfig()

	l.viper.SetDefault("planner.target_chunk_minutes", def.Planner.TargetChunkMinutes)
	l.viper.SetDefault("planner.max_chunk_minutes", def.Planner.MaxChunkMinutes)
	l.viper.SetDefault("planner.threshold_minutes", def.Planner.ThresholdMinutes)
	l.viper.SetDefault("planner.search_slack_seconds", def.Planner.SearchSlackSeconds)
	l.viper.SetDefault("planner.overlap_seconds", def.Planner.OverlapSeconds)

	l.viper.SetDefault("silence.noise_db", def.Silence.NoiseDB)
	l.viper.SetDefault("silence.min_duration_ms", def.Silence.MinDurationMs)

	l.viper.SetDefault("store.db_path", def.Store.DBPath)

	l.viper.SetDefault("dispatch.max_attempts", def.Dispatch.MaxAttempts)
	l.viper.SetDefault("dispatch.base_delay", def.Dispatch.BaseDelay)
	l.viper.SetDefault("dispatch.max_delay", def.Dispatch.MaxDelay)

	l.viper.SetDefault("pipeline.mode", def.Pipeline.Mode)
	l.viper.SetDefault("pipeline.workers", def.Pipeline.Workers)
	l.viper.SetDefault("pipeline.wait_backoff", def.Pipeline.WaitBackoff)
	l.viper.SetDefault("pipeline.max_wait_attempts", def.Pipeline.MaxWaitAttempts)

	l.viper.SetDefault("logging.level", def.Logging.Level)
	l.viper.SetDefault("logging.format", def.Logging.Format)
	l.viper.SetDefault("logging.output", def.Logging.Output)
	l.viper.SetDefault("logging.timestamp", def.Logging.Timestamp)
}

func (l *Loader) validateConfig(cfg *Config) error {
	if cfg.Planner.TargetChunkMinutes <= 0 {
		return fmt.Errorf("planner.target_chunk_minutes must be positive")
	}
	if cfg.Planner.MaxChunkMinutes < cfg.Planner.TargetChunkMinutes {
		return fmt.Errorf("planner.max_chunk_minutes must be at least planner.target_chunk_minutes")
	}
	if cfg.Planner.OverlapSeconds < 0 {
		return fmt.Errorf("planner.overlap_seconds must not be negative")
	}
	if cfg.Store.DBPath == "" {
		return fmt.Errorf("store.db_path must not be empty")
	}
	switch cfg.Pipeline.Mode {
	case "parallel", "sequential":
	default:
		return fmt.Errorf("pipeline.mode must be parallel or sequential, got %q", cfg.Pipeline.Mode)
	}
	if cfg.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	return nil
}
