package config

import (
	"fmt"
	"os"
	"time"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/common/http/middleware"
	"proofjudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr             = "127.0.0.1:8000"
	DefaultReadTimeout      = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultStartDelay       = time.Second
	DefaultGradeDelay       = 3 * time.Second
	DefaultMaxSolutionBytes = 1 << 20
	DefaultMaxBodyBytes     = 16 << 20
	DefaultMaxImageBytes    = 10 << 20
)

// DelayConfig shapes the simulated grading latency.
// Zero picks the default; a negative value means no delay.
type DelayConfig struct {
	Start time.Duration `yaml:"start"`
	Grade time.Duration `yaml:"grade"`
}

// Config holds mock-grader configuration.
type Config struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// MaxBodyBytes caps request bodies after gzip inflation.
	MaxBodyBytes     int64                      `yaml:"maxBodyBytes"`
	MaxSolutionBytes int                        `yaml:"maxSolutionBytes"`
	MaxImageBytes    int                        `yaml:"maxImageBytes"`
	Redis            cache.RedisConfig          `yaml:"redis"`
	Delays           DelayConfig                `yaml:"delays"`
	RateLimit        middleware.RateLimitPolicy `yaml:"rateLimit"`
	Log              logger.Config              `yaml:"log"`
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

// Validate rejects values that cannot work.
func (c Config) Validate() error {
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rateLimit.rps must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit.burst must not be negative")
	}
	return nil
}

// EmbeddedRedis reports whether the grader should start its own in-memory redis.
func (c Config) EmbeddedRedis() bool {
	return c.Redis.Addr == ""
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxSolutionBytes == 0 {
		cfg.MaxSolutionBytes = DefaultMaxSolutionBytes
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	cfg.Delays.Start = delayOrDefault(cfg.Delays.Start, DefaultStartDelay)
	cfg.Delays.Grade = delayOrDefault(cfg.Delays.Grade, DefaultGradeDelay)

	defaults := cache.DefaultRedisConfig()
	if cfg.Redis.MaxRetries == 0 {
		cfg.Redis.MaxRetries = defaults.MaxRetries
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.DialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = defaults.PoolSize
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.OutputPath == "" {
		cfg.Log.OutputPath = "stdout"
	}
}

func delayOrDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	default:
		return d
	}
}
