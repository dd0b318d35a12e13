package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultStartDelay, cfg.Delays.Start)
	assert.Equal(t, DefaultGradeDelay, cfg.Delays.Grade)
	assert.True(t, cfg.EmbeddedRedis())
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: 0.0.0.0:9000
redis:
  addr: 127.0.0.1:6379
delays:
  start: 250ms
  grade: -1s
rateLimit:
  rps: 5
  burst: 10
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.False(t, cfg.EmbeddedRedis())
	assert.Equal(t, 250*time.Millisecond, cfg.Delays.Start)
	assert.Zero(t, cfg.Delays.Grade)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsNegativeRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rateLimit:\n  rps: -1\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
