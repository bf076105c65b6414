package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Queue.WorkerInterval)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Queue.StuckTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Queue.StuckRetryDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.Retention)
	assert.Equal(t, 5, cfg.Buffer.Threshold)
	assert.Equal(t, 10, cfg.Buffer.BatchCap)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, "memory.created", cfg.Ingest.Subject)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadThresholdDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.InDelta(t, 0.1, cfg.Thresholds.ConfidenceBoost, 1e-9)
	assert.InDelta(t, 0.2, cfg.Thresholds.ExplicitConfidenceBoost, 1e-9)
	assert.InDelta(t, 0.7, cfg.Thresholds.BestPracticeConfidence, 1e-9)
	assert.Equal(t, 3, cfg.Thresholds.BestPracticeFrequency)
	assert.Equal(t, 2, cfg.Thresholds.BestPracticeProjects)
	assert.Equal(t, 3, cfg.Thresholds.AntiPatternBugCount)
	assert.Equal(t, 7, cfg.Thresholds.AntiPatternWindowDays)
	assert.Equal(t, 90, cfg.Thresholds.TechPreferenceWindowDays)
	assert.Equal(t, 6, cfg.Thresholds.EvolutionWindowMonths)
	assert.InDelta(t, 0.20, cfg.Thresholds.TeamPatternShare, 1e-9)
	assert.InDelta(t, 0.15, cfg.Thresholds.QualityBugRatio, 1e-9)
	assert.InDelta(t, 0.05, cfg.Thresholds.QualityLessonsRatio, 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
queue:
  worker_interval: 1m
  batch_size: 25
buffer:
  threshold: 3
  batch_cap: 6
embedding:
  provider: tei
  base_url: http://embedder:8080
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Queue.WorkerInterval)
	assert.Equal(t, 25, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Buffer.Threshold)
	assert.Equal(t, 6, cfg.Buffer.BatchCap)
	assert.Equal(t, "tei", cfg.Embedding.Provider)
	assert.Equal(t, "http://embedder:8080", cfg.Embedding.BaseURL)
	// Unset sections still get defaults.
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o600))

	t.Setenv("LEARND_SERVER_PORT", "8181")
	t.Setenv("LEARND_QUEUE_WORKER_INTERVAL", "30s")
	t.Setenv("LEARND_EMBEDDING_BASE_URL", "http://tei:9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Queue.WorkerInterval)
	assert.Equal(t, "http://tei:9000", cfg.Embedding.BaseURL)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	big := make([]byte, maxConfigFileSize+1)
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port out of range"},
		{"short interval", func(c *Config) { c.Queue.WorkerInterval = time.Millisecond }, "worker_interval too short"},
		{"zero batch", func(c *Config) { c.Queue.BatchSize = 0 }, "batch_size must be positive"},
		{"cap below threshold", func(c *Config) { c.Buffer.BatchCap = 2; c.Buffer.Threshold = 5 }, "smaller than threshold"},
		{"bad boost", func(c *Config) { c.Thresholds.ConfidenceBoost = 1.5 }, "confidence_boost out of range"},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "openai" }, "unknown embedding provider"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "unknown logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
