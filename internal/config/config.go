// Package config provides configuration loading for learnd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables with a LEARND_ prefix. Missing values fall back to
// defaults that match the pipeline's documented behavior.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete learnd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Queue      QueueConfig      `koanf:"queue"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Buffer     BufferConfig     `koanf:"buffer"`
	Thresholds ThresholdsConfig `koanf:"thresholds"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds the status/metrics HTTP listener configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds durable storage paths.
type StorageConfig struct {
	DatabasePath string `koanf:"database_path"`
	VectorPath   string `koanf:"vector_path"`
}

// QueueConfig holds worker loop and queue maintenance configuration.
type QueueConfig struct {
	WorkerInterval  time.Duration `koanf:"worker_interval"`
	BatchSize       int           `koanf:"batch_size"`
	MaxRetries      int           `koanf:"max_retries"`
	StuckTimeout    time.Duration `koanf:"stuck_timeout"`
	StuckRetryDelay time.Duration `koanf:"stuck_retry_delay"`
	Retention       time.Duration `koanf:"retention"`
}

// SchedulerConfig holds per-type recurring intervals.
type SchedulerConfig struct {
	Enabled            bool          `koanf:"enabled"`
	PatternInterval    time.Duration `koanf:"pattern_interval"`
	InsightInterval    time.Duration `koanf:"insight_interval"`
	PreferenceInterval time.Duration `koanf:"preference_interval"`
	EvolutionInterval  time.Duration `koanf:"evolution_interval"`
	MilestoneInterval  time.Duration `koanf:"milestone_interval"`
	CriticalInterval   time.Duration `koanf:"critical_interval"`
}

// BufferConfig holds ingestion buffer configuration.
type BufferConfig struct {
	Threshold     int           `koanf:"threshold"`
	BatchCap      int           `koanf:"batch_cap"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// ThresholdsConfig holds the tunable analysis constants.
//
// These started life as fixed constants in the pipeline's analyses; they are
// configuration because their exact values are operational tuning, not
// semantics.
type ThresholdsConfig struct {
	ConfidenceBoost         float64 `koanf:"confidence_boost"`
	ExplicitConfidenceBoost float64 `koanf:"explicit_confidence_boost"`
	MaxExampleMemories      int     `koanf:"max_example_memories"`

	BestPracticeConfidence float64 `koanf:"best_practice_confidence"`
	BestPracticeFrequency  int     `koanf:"best_practice_frequency"`
	BestPracticeProjects   int     `koanf:"best_practice_projects"`

	AntiPatternBugCount   int `koanf:"anti_pattern_bug_count"`
	AntiPatternWindowDays int `koanf:"anti_pattern_window_days"`

	TechPreferenceWindowDays  int `koanf:"tech_preference_window_days"`
	TechPreferenceMinMentions int `koanf:"tech_preference_min_mentions"`

	EvolutionWindowMonths  int     `koanf:"evolution_window_months"`
	EvolutionGrowthFactor  float64 `koanf:"evolution_growth_factor"`
	EvolutionDeclineFactor float64 `koanf:"evolution_decline_factor"`

	TeamPatternWindowDays int     `koanf:"team_pattern_window_days"`
	TeamPatternShare      float64 `koanf:"team_pattern_share"`

	QualityWindowDays   int     `koanf:"quality_window_days"`
	QualityBugRatio     float64 `koanf:"quality_bug_ratio"`
	QualityLessonsRatio float64 `koanf:"quality_lessons_ratio"`
}

// EmbeddingConfig holds the embedding collaborator configuration.
type EmbeddingConfig struct {
	Provider          string  `koanf:"provider"`
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// IngestConfig holds the NATS memory-event subscriber configuration.
type IngestConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9091
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.local/share/learnd/learnd.db"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = "~/.local/share/learnd/vectors"
	}

	if cfg.Queue.WorkerInterval == 0 {
		cfg.Queue.WorkerInterval = 15 * time.Minute
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 10
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.StuckTimeout == 0 {
		cfg.Queue.StuckTimeout = time.Hour
	}
	if cfg.Queue.StuckRetryDelay == 0 {
		cfg.Queue.StuckRetryDelay = 5 * time.Minute
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = 7 * 24 * time.Hour
	}

	if cfg.Scheduler.PatternInterval == 0 {
		cfg.Scheduler.PatternInterval = 6 * time.Hour
	}
	if cfg.Scheduler.InsightInterval == 0 {
		cfg.Scheduler.InsightInterval = 12 * time.Hour
	}
	if cfg.Scheduler.PreferenceInterval == 0 {
		cfg.Scheduler.PreferenceInterval = 24 * time.Hour
	}
	if cfg.Scheduler.EvolutionInterval == 0 {
		cfg.Scheduler.EvolutionInterval = 24 * time.Hour
	}
	if cfg.Scheduler.MilestoneInterval == 0 {
		cfg.Scheduler.MilestoneInterval = 24 * time.Hour
	}
	if cfg.Scheduler.CriticalInterval == 0 {
		cfg.Scheduler.CriticalInterval = 4 * time.Hour
	}

	if cfg.Buffer.Threshold == 0 {
		cfg.Buffer.Threshold = 5
	}
	if cfg.Buffer.BatchCap == 0 {
		cfg.Buffer.BatchCap = 10
	}
	if cfg.Buffer.FlushInterval == 0 {
		cfg.Buffer.FlushInterval = 5 * time.Minute
	}

	applyThresholdDefaults(&cfg.Thresholds)

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "none"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 50.0 / 60.0
	}
	if cfg.Embedding.Burst == 0 {
		cfg.Embedding.Burst = 5
	}

	if cfg.Ingest.URL == "" {
		cfg.Ingest.URL = "nats://localhost:4222"
	}
	if cfg.Ingest.Subject == "" {
		cfg.Ingest.Subject = "memory.created"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyThresholdDefaults(t *ThresholdsConfig) {
	if t.ConfidenceBoost == 0 {
		t.ConfidenceBoost = 0.1
	}
	if t.ExplicitConfidenceBoost == 0 {
		t.ExplicitConfidenceBoost = 0.2
	}
	if t.MaxExampleMemories == 0 {
		t.MaxExampleMemories = 10
	}
	if t.BestPracticeConfidence == 0 {
		t.BestPracticeConfidence = 0.7
	}
	if t.BestPracticeFrequency == 0 {
		t.BestPracticeFrequency = 3
	}
	if t.BestPracticeProjects == 0 {
		t.BestPracticeProjects = 2
	}
	if t.AntiPatternBugCount == 0 {
		t.AntiPatternBugCount = 3
	}
	if t.AntiPatternWindowDays == 0 {
		t.AntiPatternWindowDays = 7
	}
	if t.TechPreferenceWindowDays == 0 {
		t.TechPreferenceWindowDays = 90
	}
	if t.TechPreferenceMinMentions == 0 {
		t.TechPreferenceMinMentions = 3
	}
	if t.EvolutionWindowMonths == 0 {
		t.EvolutionWindowMonths = 6
	}
	if t.EvolutionGrowthFactor == 0 {
		t.EvolutionGrowthFactor = 1.5
	}
	if t.EvolutionDeclineFactor == 0 {
		t.EvolutionDeclineFactor = 0.5
	}
	if t.TeamPatternWindowDays == 0 {
		t.TeamPatternWindowDays = 30
	}
	if t.TeamPatternShare == 0 {
		t.TeamPatternShare = 0.20
	}
	if t.QualityWindowDays == 0 {
		t.QualityWindowDays = 90
	}
	if t.QualityBugRatio == 0 {
		t.QualityBugRatio = 0.15
	}
	if t.QualityLessonsRatio == 0 {
		t.QualityLessonsRatio = 0.05
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Storage.DatabasePath == "" {
		return errors.New("storage database_path is required")
	}
	if c.Queue.WorkerInterval < time.Second {
		return fmt.Errorf("queue worker_interval too short: %s", c.Queue.WorkerInterval)
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue batch_size must be positive: %d", c.Queue.BatchSize)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue max_retries cannot be negative: %d", c.Queue.MaxRetries)
	}
	if c.Buffer.Threshold < 1 {
		return fmt.Errorf("buffer threshold must be positive: %d", c.Buffer.Threshold)
	}
	if c.Buffer.BatchCap < c.Buffer.Threshold {
		return fmt.Errorf("buffer batch_cap %d smaller than threshold %d", c.Buffer.BatchCap, c.Buffer.Threshold)
	}
	if c.Thresholds.ConfidenceBoost <= 0 || c.Thresholds.ConfidenceBoost > 1 {
		return fmt.Errorf("confidence_boost out of range: %g", c.Thresholds.ConfidenceBoost)
	}
	if c.Thresholds.ExplicitConfidenceBoost <= 0 || c.Thresholds.ExplicitConfidenceBoost > 1 {
		return fmt.Errorf("explicit_confidence_boost out of range: %g", c.Thresholds.ExplicitConfidenceBoost)
	}
	switch c.Embedding.Provider {
	case "tei", "none":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level: %q", c.Logging.Level)
	}
	return nil
}
