package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/config"
)

func TestDefault_UsesInMemoryBackends(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.StateBackendMemory, cfg.State.Backend)
	assert.Equal(t, config.EngineBackendInmem, cfg.Engine.Backend)
	assert.Greater(t, cfg.QueueDepth, 0)
}

func TestLoad_OverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "queue_depth: 50\nstate:\n  backend: redis\n  redis:\n    addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.QueueDepth)
	assert.Equal(t, config.StateBackendRedis, cfg.State.Backend)
	assert.Equal(t, "localhost:6379", cfg.State.Redis.Addr)
	assert.Equal(t, config.EngineBackendInmem, cfg.Engine.Backend, "unspecified fields keep Default()'s value")
}

func TestRetryConfig_ToPolicy_FallsBackToDefaultPolicy(t *testing.T) {
	var r config.RetryConfig
	p := r.ToPolicy()
	assert.Greater(t, p.MaxAttempts, 0)
}

func TestSelectorConfig_ToWeights_FallsBackWhenAllZero(t *testing.T) {
	var s config.SelectorConfig
	w := s.ToWeights()
	assert.Greater(t, w.Load, 0.0)
}
