// Package config loads agentcore's runtime configuration from
// environment variables, an optional config file, and built-in
// defaults, following the same layering as the rest of the pack.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates every configurable section of the service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	MessageBus   MessageBusConfig   `mapstructure:"messageBus"`
	EventBus     EventBusConfig     `mapstructure:"eventBus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	NATS         NATSConfig         `mapstructure:"nats"`
	History      HistoryConfig      `mapstructure:"history"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig controls the optional admin HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// RegistryConfig controls default AgentConfig values for newly
// registered agents.
type RegistryConfig struct {
	HealthCheckIntervalMS int `mapstructure:"healthCheckIntervalMs"`
	MaxRetries            int `mapstructure:"maxRetries"`
	RestartDelayMS        int `mapstructure:"restartDelayMs"`
	TimeoutMS             int `mapstructure:"timeoutMs"`
}

// MessageBusConfig controls MessageBus sizing and janitor cadence.
type MessageBusConfig struct {
	BroadcastCapacity          int `mapstructure:"broadcastCapacity"`
	MaxHistorySize             int `mapstructure:"maxHistorySize"`
	ExpirationCheckIntervalMS  int `mapstructure:"expirationCheckIntervalMs"`
	AckTimeoutMS               int `mapstructure:"ackTimeoutMs"`
}

// EventBusConfig controls EventBus history sizing.
type EventBusConfig struct {
	BroadcastCapacity int `mapstructure:"broadcastCapacity"`
	MaxHistorySize    int `mapstructure:"maxHistorySize"`
}

// OrchestratorConfig controls pipeline concurrency and retry policy.
type OrchestratorConfig struct {
	MaxConcurrentTasks int `mapstructure:"maxConcurrentTasks"`
	SubmitTimeoutMS    int `mapstructure:"submitTimeoutMs"`
	DispatchTimeoutMS  int `mapstructure:"dispatchTimeoutMs"`
	StageTimeoutMS     int `mapstructure:"stageTimeoutMs"`
	MaxRetries         int `mapstructure:"maxRetries"`
	BaseBackoffMS      int `mapstructure:"baseBackoffMs"`
}

// NATSConfig controls the optional broadcast-mirroring bridge.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// HistoryConfig controls the optional durable history adapter.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"` // "", "sqlite", "postgres"
	DSN    string `mapstructure:"dsn"`
}

// SecurityConfig controls the SecurityAuditor's rule engine.
type SecurityConfig struct {
	// RuleOverridesPath, if set, points at a YAML file tuning built-in
	// rule severities without a recompile. Empty leaves every rule at
	// its compiled-in severity.
	RuleOverridesPath string `mapstructure:"ruleOverridesPath"`
}

func (c *MessageBusConfig) ExpirationCheckInterval() time.Duration {
	return time.Duration(c.ExpirationCheckIntervalMS) * time.Millisecond
}

func (c *MessageBusConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

func (c *RegistryConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMS) * time.Millisecond
}

func (c *RegistryConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMS) * time.Millisecond
}

func (c *RegistryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *OrchestratorConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutMS) * time.Millisecond
}

func (c *OrchestratorConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMS) * time.Millisecond
}

func (c *OrchestratorConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMS) * time.Millisecond
}

func (c *OrchestratorConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("registry.healthCheckIntervalMs", 30000)
	v.SetDefault("registry.maxRetries", 3)
	v.SetDefault("registry.restartDelayMs", 5000)
	v.SetDefault("registry.timeoutMs", 300000)

	v.SetDefault("messageBus.broadcastCapacity", 1000)
	v.SetDefault("messageBus.maxHistorySize", 10000)
	v.SetDefault("messageBus.expirationCheckIntervalMs", 60000)
	v.SetDefault("messageBus.ackTimeoutMs", 30000)

	v.SetDefault("eventBus.broadcastCapacity", 1000)
	v.SetDefault("eventBus.maxHistorySize", 10000)

	v.SetDefault("orchestrator.maxConcurrentTasks", 10)
	v.SetDefault("orchestrator.submitTimeoutMs", 5000)
	v.SetDefault("orchestrator.dispatchTimeoutMs", 2000)
	v.SetDefault("orchestrator.stageTimeoutMs", 10000)
	v.SetDefault("orchestrator.maxRetries", 3)
	v.SetDefault("orchestrator.baseBackoffMs", 100)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "agentcore.broadcast")

	v.SetDefault("history.driver", "")
	v.SetDefault("history.dsn", "")

	v.SetDefault("security.ruleOverridesPath", "")
}

// Load reads configuration from env vars (prefix AGENTCORE_), an
// optional ./config.yaml, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but adds configPath to the search path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentcore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Orchestrator.MaxConcurrentTasks <= 0 {
		errs = append(errs, "orchestrator.maxConcurrentTasks must be positive")
	}
	if cfg.Orchestrator.MaxRetries < 0 {
		errs = append(errs, "orchestrator.maxRetries must not be negative")
	}
	if cfg.History.Driver != "" && cfg.History.Driver != "sqlite" && cfg.History.Driver != "postgres" {
		errs = append(errs, "history.driver must be one of: '', sqlite, postgres")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
