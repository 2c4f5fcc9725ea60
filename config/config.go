// Package config loads engine configuration from defaults, an optional
// YAML file and environment variable overrides, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/ctxmgr"
	"github.com/velsin/swarmflow/handoff"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/store"
)

// Config is the complete engine configuration.
type Config struct {
	// Log controls the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Registry locates agent descriptors.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Context bounds the working-memory compaction manager.
	Context ctxmgr.Config `yaml:"context" env:"CONTEXT"`

	// Handoff bounds dynamic delegation chains.
	Handoff handoff.ChainConfig `yaml:"handoff" env:"HANDOFF"`

	// Recovery controls retries and the circuit breaker.
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`

	// Orchestrator configures workflow chain execution.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Invoker bounds individual agent calls.
	Invoker agent.InvokerConfig `yaml:"invoker" env:"INVOKER"`

	// Store selects and configures the persistence backend.
	Store store.Config `yaml:"store" env:"STORE"`

	// Telemetry configures tracing and metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"FORMAT"`
}

// RegistryConfig locates agent descriptors.
type RegistryConfig struct {
	// Dir holds one YAML descriptor per agent.
	Dir string `yaml:"dir" env:"DIR"`
	// Watch reloads descriptors when their files change.
	Watch bool `yaml:"watch" env:"WATCH"`
	// WatchInterval is the polling fallback interval.
	WatchInterval time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`
}

// RecoveryConfig groups the retry policy and circuit breaker settings.
type RecoveryConfig struct {
	Retry   recovery.RetryPolicy   `yaml:"retry" env:"RETRY"`
	Breaker recovery.BreakerConfig `yaml:"breaker" env:"BREAKER"`
	// BreakerEnabled turns the circuit breaker on.
	BreakerEnabled bool `yaml:"breaker_enabled" env:"BREAKER_ENABLED"`
}

// OrchestratorConfig configures chain execution.
type OrchestratorConfig struct {
	// Strategy is the default error handling strategy for workflows that
	// do not declare one.
	Strategy recovery.Strategy `yaml:"strategy" env:"STRATEGY"`
	// DefaultAgent handles subtasks with no agent binding.
	DefaultAgent string `yaml:"default_agent" env:"DEFAULT_AGENT"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	// Enabled turns on OTLP trace export.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// ServiceName tags exported spans.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRatio is the trace sampling ratio in [0, 1].
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	// MetricsNamespace prefixes all prometheus metric names.
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			Dir:           "./agents",
			WatchInterval: 5 * time.Second,
		},
		Context:  ctxmgr.DefaultConfig(),
		Handoff:  handoff.DefaultChainConfig(),
		Recovery: DefaultRecoveryConfig(),
		Orchestrator: OrchestratorConfig{
			Strategy: recovery.RetryThenFail,
		},
		Invoker: agent.DefaultInvokerConfig(),
		Store:   store.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName:      "swarmflow",
			SampleRatio:      1.0,
			MetricsNamespace: "swarmflow",
		},
	}
}

// DefaultRecoveryConfig returns the default retry and breaker settings.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Retry:          recovery.DefaultRetryPolicy(),
		Breaker:        recovery.DefaultBreakerConfig(),
		BreakerEnabled: true,
	}
}

// Validate checks cross-field invariants the individual packages cannot.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if c.Context.MaxTokens <= 0 {
		errs = append(errs, "context max_tokens must be positive")
	}
	if c.Context.CompressThreshold <= 0 || c.Context.CompressThreshold > 1 {
		errs = append(errs, "context compress_threshold must be in (0, 1]")
	}
	if c.Handoff.MaxDepth <= 0 {
		errs = append(errs, "handoff max_depth must be positive")
	}
	if c.Recovery.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry max_attempts must be positive")
	}
	if !c.Orchestrator.Strategy.Valid() {
		errs = append(errs, fmt.Sprintf("unknown recovery strategy %q", c.Orchestrator.Strategy))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry sample_ratio must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}
