// Package config defines the orchestrator's composition-root configuration
// (SPEC_FULL.md §A.3): a single YAML-tagged struct loaded once by
// cmd/orchestrator/main.go and threaded explicitly into every constructor,
// mirroring the teacher's runtime.Options/RuntimeOption composition rather
// than package-level singletons (teacher design note, "global singletons").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/orchestrator/internal/resilience/breaker"
	"github.com/taskmesh/orchestrator/internal/resilience/retry"
	"github.com/taskmesh/orchestrator/internal/selector"
)

// StateBackend selects the durable state store implementation.
type StateBackend string

const (
	StateBackendMemory StateBackend = "memory"
	StateBackendRedis  StateBackend = "redis"
	StateBackendMongo  StateBackend = "mongo"
)

// EngineBackend selects the workflow execution engine.
type EngineBackend string

const (
	EngineBackendInmem    EngineBackend = "inmem"
	EngineBackendTemporal EngineBackend = "temporal"
)

// Config is the full set of composition-root knobs.
type Config struct {
	// QueueDepth is loaded from YAML (default 1000). Neither
	// orchestrator.New nor cmd/orchestrator reads it: submissions are not
	// bounded by it.
	QueueDepth int `yaml:"queue_depth"`
	// WorkerPoolSize is loaded from YAML (default 16). Nothing reads it:
	// concurrent workflow executions are not bounded by it.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	Retry         RetryConfig         `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Selector      SelectorConfig      `yaml:"selector"`

	State State `yaml:"state"`
	Engine Engine `yaml:"engine"`

	Snapshot SnapshotConfig `yaml:"snapshot"`

	// StaleAgentAfter marks an agent inactive once its heartbeat is older
	// than this (SPEC_FULL.md §C.3).
	StaleAgentAfter time.Duration `yaml:"stale_agent_after"`
}

// RetryConfig mirrors resilience/retry.Policy for YAML loading.
type RetryConfig struct {
	Strategy    string        `yaml:"strategy"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// ToPolicy converts the loaded config into a retry.Policy, falling back to
// retry.DefaultPolicy for zero values.
func (r RetryConfig) ToPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if r.Strategy != "" {
		p.Strategy = retry.Strategy(r.Strategy)
	}
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	return p
}

// CircuitBreakerConfig mirrors resilience/breaker.Config for YAML loading.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// ToBreakerConfig converts the loaded config into a breaker.Config, falling
// back to breaker.DefaultConfig for zero values.
func (c CircuitBreakerConfig) ToBreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.SuccessThreshold
	}
	if c.OpenTimeout > 0 {
		cfg.OpenTimeout = c.OpenTimeout
	}
	return cfg
}

// SelectorConfig mirrors selector.Weights for YAML loading.
type SelectorConfig struct {
	Capability float64 `yaml:"capability"`
	Load       float64 `yaml:"load"`
	Cost       float64 `yaml:"cost"`
	Health     float64 `yaml:"health"`
}

// ToWeights converts the loaded config into selector.Weights, falling back
// to selector.DefaultWeights when every field is zero. The Selector itself
// normalizes the result to sum to 1.
func (s SelectorConfig) ToWeights() selector.Weights {
	if s.Capability == 0 && s.Load == 0 && s.Cost == 0 && s.Health == 0 {
		return selector.DefaultWeights()
	}
	return selector.Weights{Capability: s.Capability, Load: s.Load, Cost: s.Cost, Health: s.Health}
}

// State configures the durable state store backend.
type State struct {
	Backend  StateBackend `yaml:"backend"`
	Redis    RedisConfig  `yaml:"redis"`
	Mongo    MongoConfig  `yaml:"mongo"`
}

// RedisConfig configures the Redis connection used by state/redisstore and
// internal/events.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MongoConfig configures the Mongo connection used by state/mongostore.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Engine configures which workflow execution backend the orchestrator
// runs against.
type Engine struct {
	Backend  EngineBackend  `yaml:"backend"`
	Temporal TemporalConfig `yaml:"temporal"`
}

// TemporalConfig configures the Temporal-backed engine.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// SnapshotConfig configures checkpoint retention (spec §4.5).
type SnapshotConfig struct {
	KeepNewest int           `yaml:"keep_newest"`
	OlderThan  time.Duration `yaml:"older_than"`
}

// Default returns a Config usable without any YAML file: in-memory state,
// in-memory engine, default resilience tuning.
func Default() Config {
	return Config{
		QueueDepth:      1000,
		WorkerPoolSize:  16,
		StaleAgentAfter: 2 * time.Minute,
		State:           State{Backend: StateBackendMemory},
		Engine:          Engine{Backend: EngineBackendInmem},
		Snapshot:        SnapshotConfig{KeepNewest: 10},
	}
}

// Load reads and parses a YAML config file at path, starting from Default()
// so any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
