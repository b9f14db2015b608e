package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEverySetting(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30, cfg.Scheduler.WaitThresholdSeconds)
	assert.Equal(t, int64(100000), cfg.Quota.MaxTokensPerWindow)
	assert.Equal(t, 32000, cfg.Pager.MaxContextTokens)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestSetDefaultsPreservesExplicitZeroOverrideIsNotPossible(t *testing.T) {
	// SetDefaults treats zero as "unset" for every field it manages, so an
	// explicit 0 is indistinguishable from an absent value -- this is the
	// documented limitation inherited from the teacher's own pattern.
	cfg := &Config{}
	cfg.Quota.MaxTokensPerWindow = 0
	cfg.SetDefaults()
	assert.Equal(t, int64(100000), cfg.Quota.MaxTokensPerWindow)
}

func TestValidateRejectsUnsupportedBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "mongodb"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNForNonMemoryBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.DSN = ""
	assert.Error(t, cfg.Validate())

	cfg.Storage.DSN = "./data.db"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsRequestExceedingWindow(t *testing.T) {
	cfg := Default()
	cfg.Quota.MaxTokensPerRequest = cfg.Quota.MaxTokensPerWindow + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveContextTokens(t *testing.T) {
	cfg := Default()
	cfg.Pager.MaxContextTokens = 0
	assert.Error(t, cfg.Validate())
}

func TestExpandEnvVarsBracedAndDefaulted(t *testing.T) {
	t.Setenv("AGENTKERNEL_TEST_DSN", "postgres://example")
	assert.Equal(t, "postgres://example", expandEnvVars("${AGENTKERNEL_TEST_DSN}"))
	assert.Equal(t, "fallback", expandEnvVars("${AGENTKERNEL_TEST_MISSING:-fallback}"))

	t.Setenv("AGENTKERNEL_TEST_PRESENT", "actual")
	assert.Equal(t, "actual", expandEnvVars("${AGENTKERNEL_TEST_PRESENT:-fallback}"))

	assert.Equal(t, "no vars here", expandEnvVars("no vars here"))
}

func TestLoadReadsExpandsAndValidates(t *testing.T) {
	t.Setenv("AGENTKERNEL_TEST_MAX_TOKENS", "50000")

	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	yaml := `
quota:
  max_tokens_per_window: ${AGENTKERNEL_TEST_MAX_TOKENS}
storage:
  backend: memory
observability:
  log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), cfg.Quota.MaxTokensPerWindow)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	// Unspecified fields still receive defaults.
	assert.Equal(t, 30, cfg.Scheduler.WaitThresholdSeconds)
}

func TestLoadRejectsInvalidConfigAfterDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: mongodb\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.DSN = "./data.db"

	sched := cfg.ToSchedulerConfig()
	assert.Equal(t, int64(30), int64(sched.WaitThreshold.Seconds()))

	q := cfg.ToQuotaConfig()
	assert.Equal(t, cfg.Quota.MaxTokensPerWindow, q.MaxTokensPerWindow)

	br := cfg.ToBreakerConfig()
	assert.Equal(t, cfg.Breaker.FailureThreshold, br.FailureThreshold)

	m := cfg.ToMetricsConfig()
	assert.False(t, m.Enabled)

	tr := cfg.ToTracerConfig()
	assert.False(t, tr.Enabled)
}
