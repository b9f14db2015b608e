// Package config loads the kernel's YAML configuration, adapted from the
// teacher's pkg/config: the same env-var-expansion-then-unmarshal pipeline
// and SetDefaults/Validate contract, backed by yaml.v3 and mapstructure
// instead of koanf (the kernel's config tree has no need for koanf's
// consul/etcd/zookeeper remote providers), with godotenv for .env loading
// and fsnotify for hot-reload in place of koanf's provider-specific watch.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/agentkernel/agentkernel/pkg/breaker"
	"github.com/agentkernel/agentkernel/pkg/observability"
	"github.com/agentkernel/agentkernel/pkg/quota"
	"github.com/agentkernel/agentkernel/pkg/scheduler"
)

// SchedulerConfig mirrors scheduler.Config in YAML-friendly form.
type SchedulerConfig struct {
	WaitThresholdSeconds int `yaml:"wait_threshold_seconds" mapstructure:"wait_threshold_seconds"`
}

// QuotaConfig mirrors quota.Config in YAML-friendly form.
type QuotaConfig struct {
	WindowSeconds        int64 `yaml:"window_seconds" mapstructure:"window_seconds"`
	MaxTokensPerWindow   int64 `yaml:"max_tokens_per_window" mapstructure:"max_tokens_per_window"`
	MaxTokensPerRequest  int64 `yaml:"max_tokens_per_request" mapstructure:"max_tokens_per_request"`
	MaxAPICallsPerWindow int64 `yaml:"max_api_calls_per_window" mapstructure:"max_api_calls_per_window"`
	MaxAPICallsPerMinute int64 `yaml:"max_api_calls_per_minute" mapstructure:"max_api_calls_per_minute"`
	MaxExecutionSeconds  int64 `yaml:"max_execution_seconds" mapstructure:"max_execution_seconds"`
	MaxMemoryMB          int64 `yaml:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxConcurrentTools   int64 `yaml:"max_concurrent_tools" mapstructure:"max_concurrent_tools"`
}

// PagerConfig controls the context manager.
type PagerConfig struct {
	MaxContextTokens int `yaml:"max_context_tokens" mapstructure:"max_context_tokens"`
}

// BreakerConfig mirrors breaker.Config in YAML-friendly form.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	TimeoutSeconds   int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// StorageConfig selects and configures the audit/checkpoint backend.
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "memory", "sqlite", "postgres", "mysql"
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// ObservabilityConfig controls logging/metrics/tracing.
type ObservabilityConfig struct {
	LogLevel        string  `yaml:"log_level" mapstructure:"log_level"`
	MetricsEnabled  bool    `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	TracingEnabled  bool    `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	TraceEndpoint   string  `yaml:"trace_endpoint" mapstructure:"trace_endpoint"`
	TraceSampleRate float64 `yaml:"trace_sample_rate" mapstructure:"trace_sample_rate"`
}

// Config is the kernel's root configuration tree.
type Config struct {
	Scheduler     SchedulerConfig     `yaml:"scheduler" mapstructure:"scheduler"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Pager         PagerConfig         `yaml:"pager" mapstructure:"pager"`
	Breaker       BreakerConfig       `yaml:"breaker" mapstructure:"breaker"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// SetDefaults fills any zero-valued field with the kernel's defaults,
// mirroring the teacher's Config.SetDefaults pattern of a single pass of
// `if x == 0 { x = default }` assignments applied after unmarshal.
func (c *Config) SetDefaults() {
	if c.Scheduler.WaitThresholdSeconds == 0 {
		c.Scheduler.WaitThresholdSeconds = 30
	}
	if c.Quota.WindowSeconds == 0 {
		c.Quota.WindowSeconds = 3600
	}
	if c.Quota.MaxTokensPerWindow == 0 {
		c.Quota.MaxTokensPerWindow = 100000
	}
	if c.Quota.MaxTokensPerRequest == 0 {
		c.Quota.MaxTokensPerRequest = 8000
	}
	if c.Quota.MaxAPICallsPerWindow == 0 {
		c.Quota.MaxAPICallsPerWindow = 500
	}
	if c.Quota.MaxAPICallsPerMinute == 0 {
		c.Quota.MaxAPICallsPerMinute = 20
	}
	if c.Quota.MaxExecutionSeconds == 0 {
		c.Quota.MaxExecutionSeconds = 300
	}
	if c.Quota.MaxMemoryMB == 0 {
		c.Quota.MaxMemoryMB = 512
	}
	if c.Quota.MaxConcurrentTools == 0 {
		c.Quota.MaxConcurrentTools = 4
	}
	if c.Pager.MaxContextTokens == 0 {
		c.Pager.MaxContextTokens = 32000
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.TimeoutSeconds == 0 {
		c.Breaker.TimeoutSeconds = 60
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// Validate rejects configurations that would otherwise fail later inside
// the kernel with a less actionable error.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported storage backend %q (want memory, sqlite, postgres, mysql)", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for backend %q", c.Storage.Backend)
	}
	if c.Pager.MaxContextTokens <= 0 {
		return fmt.Errorf("config: pager.max_context_tokens must be positive")
	}
	if c.Quota.MaxTokensPerRequest > c.Quota.MaxTokensPerWindow {
		return fmt.Errorf("config: quota.max_tokens_per_request cannot exceed quota.max_tokens_per_window")
	}
	return nil
}

// ToSchedulerConfig converts to scheduler.Config.
func (c *Config) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{WaitThreshold: time.Duration(c.Scheduler.WaitThresholdSeconds) * time.Second}
}

// ToQuotaConfig converts to quota.Config.
func (c *Config) ToQuotaConfig() quota.Config {
	return quota.Config{
		WindowSeconds:        c.Quota.WindowSeconds,
		MaxTokensPerWindow:   c.Quota.MaxTokensPerWindow,
		MaxTokensPerRequest:  c.Quota.MaxTokensPerRequest,
		MaxAPICallsPerWindow: c.Quota.MaxAPICallsPerWindow,
		MaxAPICallsPerMinute: c.Quota.MaxAPICallsPerMinute,
		MaxExecutionTime:     time.Duration(c.Quota.MaxExecutionSeconds) * time.Second,
		MaxMemoryMB:          c.Quota.MaxMemoryMB,
		MaxConcurrentTools:   int(c.Quota.MaxConcurrentTools),
	}
}

// ToBreakerConfig converts to breaker.Config.
func (c *Config) ToBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		TimeoutSeconds:   c.Breaker.TimeoutSeconds,
	}
}

// ToMetricsConfig converts to observability.MetricsConfig.
func (c *Config) ToMetricsConfig() observability.MetricsConfig {
	return observability.MetricsConfig{Enabled: c.Observability.MetricsEnabled}
}

// ToTracerConfig converts to observability.TracerConfig.
func (c *Config) ToTracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		Enabled:      c.Observability.TracingEnabled,
		EndpointURL:  c.Observability.TraceEndpoint,
		SamplingRate: c.Observability.TraceSampleRate,
	}
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
)

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references, the
// same two forms the teacher's config.expandEnvVars supports (the bare
// $VAR form is intentionally dropped: the kernel's config values are never
// expected to start with a literal dollar sign outside of these forms).
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// Load reads, env-expands, and unmarshals a YAML config file, applying
// defaults and validation (the teacher's loadAndValidateConfigFile
// pipeline). It first loads a .env file from the current working directory
// (not the config file's directory), if present, via godotenv so ${VAR}
// references can resolve to project-local overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	generic = expandEnvVarsInValue(generic).(map[string]any)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  cfg,
		// env-var expansion always yields strings, even for numeric and
		// boolean fields, so the decoder must coerce them.
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a Config populated entirely from defaults, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func expandEnvVarsInValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvVars(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v2 := range val {
			out[k] = expandEnvVarsInValue(v2)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v2 := range val {
			out[i] = expandEnvVarsInValue(v2)
		}
		return out
	default:
		return v
	}
}
