// Package config provides configuration loading for orchd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/logging"
)

// Config is the root configuration for the orchd daemon.
type Config struct {
	Logging     logging.Config    `koanf:"logging"`
	Events      EventsConfig      `koanf:"events"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Executor    ExecutorConfig    `koanf:"executor"`
	Breaker     BreakerConfig     `koanf:"breaker"`
	Gate        GateConfig        `koanf:"gate"`
	Matcher     MatcherConfig     `koanf:"matcher"`
	Healer      HealerConfig      `koanf:"healer"`
	Memory      MemoryConfig      `koanf:"memory"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
}

// EventsConfig controls the NATS event bus connection.
type EventsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// SchedulerConfig controls task admission and dispatch.
type SchedulerConfig struct {
	// MaxInProgressPerWorkspace bounds concurrent in_progress tasks per workspace.
	MaxInProgressPerWorkspace int `koanf:"max_in_progress_per_workspace"`
}

// ExecutorConfig controls task execution, timeout and retry behavior.
type ExecutorConfig struct {
	Workers       int      `koanf:"workers"`
	Timeout       Duration `koanf:"timeout"`
	MaxAttempts   int      `koanf:"max_attempts"`
	BaseDelay     Duration `koanf:"base_delay"`
	BackoffFactor float64  `koanf:"backoff_factor"`
	MaxDelay      Duration `koanf:"max_delay"`

	// RunnerCommand is the external command the daemon invokes per task
	// attempt. The task and agent are passed as JSON on stdin; stdout is
	// the task output. Required by `orchd serve`.
	RunnerCommand string `koanf:"runner_command"`
}

// BreakerConfig controls the per task-class circuit breaker.
type BreakerConfig struct {
	FailureThreshold   int      `koanf:"failure_threshold"`
	RecoveryTimeout    Duration `koanf:"recovery_timeout"`
	MaxRecoveryTimeout Duration `koanf:"max_recovery_timeout"`
}

// GateConfig controls quality gate validation.
type GateConfig struct {
	MinContentLength int      `koanf:"min_content_length"`
	RejectPatterns   []string `koanf:"reject_patterns"`
}

// MatcherConfig controls goal-deliverable matching.
type MatcherConfig struct {
	// Threshold is the minimum similarity for a match (0.0-1.0).
	Threshold float64 `koanf:"threshold"`
	// ContributionWeight is the goal progress added per matched deliverable.
	ContributionWeight float64 `koanf:"contribution_weight"`
}

// HealerConfig controls the health monitor sweep.
type HealerConfig struct {
	Interval             Duration `koanf:"interval"`
	OrphanGoalAge        Duration `koanf:"orphan_goal_age"`
	OrphanTaskAge        Duration `koanf:"orphan_task_age"`
	StallThreshold       Duration `koanf:"stall_threshold"`
	MaxProvisionAttempts int      `koanf:"max_provision_attempts"`
}

// MemoryConfig controls the append-only memory store.
type MemoryConfig struct {
	DefaultTTL    Duration `koanf:"default_ttl"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// EmbeddingsConfig controls embedding generation.
type EmbeddingsConfig struct {
	// Provider is "hash" (pure Go, deterministic) or "fastembed" (local ONNX).
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig controls the embedded vector store.
type VectorStoreConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// NewDefaultConfig returns a Config populated with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: *logging.NewDefaultConfig(),
		Events: EventsConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "orchd",
			MaxReconnects: 5,
			ReconnectWait: Duration(time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9464",
		},
		Scheduler: SchedulerConfig{
			MaxInProgressPerWorkspace: 4,
		},
		Executor: ExecutorConfig{
			Workers:       4,
			Timeout:       Duration(2 * time.Minute),
			MaxAttempts:   3,
			BaseDelay:     Duration(5 * time.Second),
			BackoffFactor: 2.0,
			MaxDelay:      Duration(5 * time.Minute),
		},
		Breaker: BreakerConfig{
			FailureThreshold:   5,
			RecoveryTimeout:    Duration(30 * time.Second),
			MaxRecoveryTimeout: Duration(10 * time.Minute),
		},
		Gate: GateConfig{
			MinContentLength: 50,
			RejectPatterns: []string{
				`(?i)\blorem ipsum\b`,
				`(?i)\b(?:TODO|TBD|FIXME|placeholder)\b`,
				`(?i)^\s*(?:content goes here|insert .* here)\s*$`,
			},
		},
		Matcher: MatcherConfig{
			Threshold:          0.7,
			ContributionWeight: 1.0,
		},
		Healer: HealerConfig{
			Interval:             Duration(5 * time.Minute),
			OrphanGoalAge:        Duration(10 * time.Minute),
			OrphanTaskAge:        Duration(15 * time.Minute),
			StallThreshold:       Duration(10 * time.Minute),
			MaxProvisionAttempts: 2,
		},
		Memory: MemoryConfig{
			DefaultTTL:    Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Embeddings: EmbeddingsConfig{
			Provider: "hash",
			Model:    "BAAI/bge-small-en-v1.5",
		},
		VectorStore: VectorStoreConfig{
			Path: "", // in-memory
		},
	}
}

// Validate checks cross-field constraints. Called after loading.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Scheduler.MaxInProgressPerWorkspace <= 0 {
		return fmt.Errorf("scheduler: max_in_progress_per_workspace must be positive")
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor: workers must be positive")
	}
	if c.Executor.MaxAttempts <= 0 {
		return fmt.Errorf("executor: max_attempts must be positive")
	}
	if c.Executor.BackoffFactor < 1.0 {
		return fmt.Errorf("executor: backoff_factor must be >= 1.0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker: failure_threshold must be positive")
	}
	if c.Breaker.MaxRecoveryTimeout.Duration() < c.Breaker.RecoveryTimeout.Duration() {
		return fmt.Errorf("breaker: max_recovery_timeout must be >= recovery_timeout")
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher: threshold must be in [0,1]")
	}
	if c.Matcher.ContributionWeight <= 0 {
		return fmt.Errorf("matcher: contribution_weight must be positive")
	}
	if c.Healer.Interval.Duration() <= 0 {
		return fmt.Errorf("healer: interval must be positive")
	}
	switch c.Embeddings.Provider {
	case "hash", "fastembed":
	default:
		return fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider)
	}
	return nil
}
