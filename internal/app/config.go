package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	FlowPath string

	Mode     string // "single" or "continuous"
	Interval time.Duration
	Workers  int

	LogFormat   string
	LogLevel    string
	MetricsPort int
	MySQLDSN    string
}

// NewConfig validates and normalizes a configuration.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.FlowPath == "" {
		return nil, errors.New("FlowPath is a required configuration field and cannot be empty")
	}
	switch cfg.Mode {
	case "", "single":
		cfg.Mode = "single"
	case "continuous":
	default:
		return nil, fmt.Errorf("invalid mode %q: must be 'single' or 'continuous'", cfg.Mode)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return &cfg, nil
}

// fileConfig is the YAML shape of an engine configuration file. Command-line
// flags override anything set here.
type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Mode        string `yaml:"mode"`
	Interval    string `yaml:"interval"`
	Workers     int    `yaml:"workers"`
	MetricsPort int    `yaml:"metrics_port"`
	MySQLDSN    string `yaml:"mysql_dsn"`
}

// LoadConfigFile reads a YAML engine configuration and overlays it onto cfg,
// filling only fields the caller left unset.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = fc.Log.Level
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = fc.Log.Format
	}
	if cfg.Mode == "" {
		cfg.Mode = fc.Mode
	}
	if cfg.Interval == 0 && fc.Interval != "" {
		d, err := time.ParseDuration(fc.Interval)
		if err != nil {
			return cfg, fmt.Errorf("config file interval: %w", err)
		}
		cfg.Interval = d
	}
	if cfg.Workers == 0 {
		cfg.Workers = fc.Workers
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = fc.MetricsPort
	}
	if cfg.MySQLDSN == "" {
		cfg.MySQLDSN = fc.MySQLDSN
	}
	return cfg, nil
}
