package config

import "time"

// Database defaults
const (
	DefaultMaxOpenConns   = 10
	DefaultMaxIdleConns   = 5
	DefaultMigrationsPath = "internal/store/migrations"
)

// Scheduler defaults, mirroring internal/scheduler's own package-level
// defaults so a zero-value Config produces the same behavior as an absent
// ralph.yaml.
const (
	DefaultMaxParallel      = 3
	DefaultPollInterval     = 5 * time.Second
	DefaultGracePeriod      = 2 * time.Second
	DefaultStaleTimeout     = 60 * time.Minute
	DefaultMaxMemoryPercent = 90.0
	DefaultMinAvailableMiB  = 512
)

// Cooldown defaults
const (
	DefaultCooldownFailureThreshold = 3
	DefaultCooldownWindow           = 5 * time.Minute
	DefaultCooldownDuration         = 60 * time.Minute
)
