package worker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jb-612/dox-asdlc/pkg/idempotency"
)

// Config controls the worker pool. Every setting can be overridden by an
// environment variable of the form WORKER_<UPPER_SNAKE>.
type Config struct {
	// PoolSize is the maximum number of concurrent agent executions.
	PoolSize int

	// BatchSize is the maximum number of events read per iteration.
	BatchSize int

	// EventTimeout is advisory; the pool neither enforces it nor passes it
	// to agents, which enforce their own deadlines.
	EventTimeout time.Duration

	// ShutdownTimeout is the grace period for in-flight tasks on Stop.
	ShutdownTimeout time.Duration

	// ConsumerGroup is the stream consumer group the pool reads.
	ConsumerGroup string

	// ConsumerName identifies this instance within the group. Must be
	// unique per running instance; auto-generated when unset.
	ConsumerName string

	// IdempotencyTTL is the processed-marker lifetime.
	IdempotencyTTL time.Duration

	// StaleClaimIdle is the idle threshold beyond which pending entries
	// are eligible for reclaim.
	StaleClaimIdle time.Duration
}

// DefaultConfig returns the built-in worker defaults.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:        4,
		BatchSize:       10,
		EventTimeout:    300 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ConsumerGroup:   "development-handlers",
		ConsumerName:    generateConsumerName(),
		IdempotencyTTL:  idempotency.DefaultTTL,
		StaleClaimIdle:  60 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.EventTimeout < time.Second {
		return fmt.Errorf("event_timeout_seconds must be positive, got %s", c.EventTimeout)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown_timeout_seconds must be positive, got %s", c.ShutdownTimeout)
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer_group must not be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name must not be empty")
	}
	return nil
}

// ConfigFromEnv loads the configuration from WORKER_* environment variables,
// falling back to the defaults for unset values.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.PoolSize, err = envInt("WORKER_POOL_SIZE", cfg.PoolSize); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envInt("WORKER_BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.EventTimeout, err = envSeconds("WORKER_EVENT_TIMEOUT_SECONDS", cfg.EventTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envSeconds("WORKER_SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("WORKER_CONSUMER_GROUP"); v != "" {
		cfg.ConsumerGroup = v
	}
	if v := os.Getenv("WORKER_CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if cfg.IdempotencyTTL, err = envSeconds("WORKER_IDEMPOTENCY_TTL_SECONDS", cfg.IdempotencyTTL); err != nil {
		return nil, err
	}
	if cfg.StaleClaimIdle, err = envMillis("WORKER_STALE_CLAIM_IDLE_MS", cfg.StaleClaimIdle); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// generateConsumerName returns a unique per-instance consumer name.
func generateConsumerName() string {
	return "worker-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(fallback/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
