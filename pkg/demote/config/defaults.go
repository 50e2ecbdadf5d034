// Package config loads demote settings from YAML, environment variables and
// built-in defaults.
package config

import "math"

const (
	// DefaultInterval is the poll interval in seconds.
	DefaultInterval = 2

	// MaxInterval is the longest poll interval in seconds. It fits the
	// int32 carried over RPC and a time.Duration.
	MaxInterval = math.MaxInt32

	// DefaultPriority is the scheduling class forced onto targets.
	DefaultPriority = "idle"

	// DefaultRetentionDays bounds the history journal.
	DefaultRetentionDays = 14

	// DefaultMetricsAddress is where /metrics listens when enabled.
	DefaultMetricsAddress = "127.0.0.1:9464"

	// EnvPrefix prefixes environment overrides, e.g. DEMOTE_INTERVAL.
	EnvPrefix = "DEMOTE"

	appName = "demote"
)

// DefaultTargets are the executables demoted when none are configured.
var DefaultTargets = []string{"SGuard64.exe", "SGuardSvc64.exe"}

// DefaultComponentLevels seeds logging.components.
var DefaultComponentLevels = map[string]string{
	"daemon":   "info",
	"monitor":  "info",
	"enforcer": "info",
	"watcher":  "warn",
}
