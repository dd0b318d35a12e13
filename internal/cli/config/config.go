package config

import (
	"fmt"
	"os"
	"time"

	"proofjudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL           = "http://127.0.0.1:8000"
	DefaultTimeout           = 10 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxPollMisses     = 3
	DefaultCompressThreshold = 64 * 1024
	DefaultHistoryFile       = ".proofjudge_history"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL       string        `yaml:"baseURL"`
	Timeout       time.Duration `yaml:"timeout"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	MaxPollMisses int           `yaml:"maxPollMisses"`
	// CompressThreshold is the request body size in bytes from which bodies are gzipped.
	// A negative value disables compression.
	CompressThreshold int           `yaml:"compressThreshold"`
	PrettyJSON        *bool         `yaml:"prettyJSON"`
	HistoryFile       string        `yaml:"historyFile"`
	Token             string        `yaml:"token"`
	Log               logger.Config `yaml:"log"`
}

// Load reads path and applies defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Validate rejects values that cannot work.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("pollInterval %s is too short", c.PollInterval)
	}
	if c.MaxPollMisses < 1 {
		return fmt.Errorf("maxPollMisses must be at least 1")
	}
	return nil
}

// PrettyOutput reports whether responses are printed indented.
func (c Config) PrettyOutput() bool {
	return c.PrettyJSON != nil && *c.PrettyJSON
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollMisses == 0 {
		cfg.MaxPollMisses = DefaultMaxPollMisses
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	} else if cfg.CompressThreshold < 0 {
		cfg.CompressThreshold = 0
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.OutputPath == "" {
		cfg.Log.OutputPath = "stderr"
	}
}
