package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all orchestrator configuration: the agent subprocess to
// invoke, storage connection, scheduling ceilings, and safety/sandbox
// settings. Adapted from the teacher's single-repo ralph.yaml shape,
// generalized to the multi-tenant PRD/Story/Task core (spec.md §2).
type Config struct {
	Provider  string          `mapstructure:"provider"`
	Claude    ClaudeConfig    `mapstructure:"claude"`
	OpenCode  OpenCodeConfig  `mapstructure:"opencode"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cooldown  CooldownConfig  `mapstructure:"cooldown"`
}

// ClaudeConfig holds Claude Code invocation settings.
type ClaudeConfig struct {
	Command []string `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// OpenCodeConfig holds OpenCode invocation settings.
type OpenCodeConfig struct {
	Command []string `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// SafetyConfig holds safety and sandbox settings for the quality gate runner.
type SafetyConfig struct {
	Sandbox         bool     `mapstructure:"sandbox"`
	AllowedCommands []string `mapstructure:"allowed_commands"`
}

// DatabaseConfig holds the relational store's connection settings
// (spec.md §6.3).
type DatabaseConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// SchedulerConfig holds the scheduling loop's pacing and resource ceilings
// (spec.md §4.5/§5).
type SchedulerConfig struct {
	MaxParallel      int           `mapstructure:"max_parallel"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	StaleTimeout     time.Duration `mapstructure:"stale_timeout"`
	MaxMemoryPercent float64       `mapstructure:"max_memory_percent"`
	MinAvailableMiB  int           `mapstructure:"min_available_mib"`
}

// CooldownConfig holds the rate-limit cooldown gate's thresholds
// (spec.md §4.2).
type CooldownConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	Duration         time.Duration `mapstructure:"duration"`
}

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise falls back to a local ralph.yaml in workDir, then the global
// XDG config path.
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}

	localPath := filepath.Join(workDir, "ralph.yaml")
	if _, err := os.Stat(localPath); err == nil {
		return LoadConfig(workDir)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(globalPath)
}

// LoadConfig loads configuration from ralph.yaml in the given directory.
// If no config file exists, sensible defaults are returned.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("ralph")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromPath loads configuration from a specific file path.
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets all default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("claude.command", []string{"claude"})
	v.SetDefault("claude.args", []string{})

	v.SetDefault("opencode.command", []string{"opencode", "run"})
	v.SetDefault("opencode.args", []string{})

	v.SetDefault("provider", "claude")

	v.SetDefault("safety.sandbox", false)
	v.SetDefault("safety.allowed_commands", []string{"npm", "go", "git"})

	v.SetDefault("database.dsn", "postgres://localhost:5432/ralph?sslmode=disable")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.migrations_path", DefaultMigrationsPath)

	v.SetDefault("scheduler.max_parallel", DefaultMaxParallel)
	v.SetDefault("scheduler.poll_interval", DefaultPollInterval)
	v.SetDefault("scheduler.grace_period", DefaultGracePeriod)
	v.SetDefault("scheduler.stale_timeout", DefaultStaleTimeout)
	v.SetDefault("scheduler.max_memory_percent", DefaultMaxMemoryPercent)
	v.SetDefault("scheduler.min_available_mib", DefaultMinAvailableMiB)

	v.SetDefault("cooldown.failure_threshold", DefaultCooldownFailureThreshold)
	v.SetDefault("cooldown.window", DefaultCooldownWindow)
	v.SetDefault("cooldown.duration", DefaultCooldownDuration)
}
