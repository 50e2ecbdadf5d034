package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/demote/pkg/demote/logging"
	"github.com/jamesainslie/demote/pkg/demote/policy"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily" json:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level" json:"level"`
	Path       string            `mapstructure:"path" yaml:"path" json:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components" json:"components"`
}

// DaemonConfig configures demoted and how the CLI reaches it.
type DaemonConfig struct {
	AutoStart  bool   `mapstructure:"auto_start" yaml:"auto_start" json:"auto_start"`
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path" json:"binary_path"` // demoted binary, discovered if empty
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path" json:"socket_path"`
	PIDPath    string `mapstructure:"pid_path" yaml:"pid_path" json:"pid_path"`
}

// HistoryConfig configures the enforcement journal.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path          string `mapstructure:"path" yaml:"path" json:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address string `mapstructure:"address" yaml:"address" json:"address"`
}

// Config is the full demote configuration.
type Config struct {
	Targets  []string      `mapstructure:"targets" yaml:"targets" json:"targets"`
	Interval int           `mapstructure:"interval" yaml:"interval" json:"interval"`
	Priority string        `mapstructure:"priority" yaml:"priority" json:"priority"`
	Logging  LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	Daemon   DaemonConfig  `mapstructure:"daemon" yaml:"daemon" json:"daemon"`
	History  HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// File is the config file that was read, empty when only defaults applied.
	File string `mapstructure:"-" yaml:"-" json:"file,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("targets", DefaultTargets)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("priority", DefaultPriority)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "5MB")
	v.SetDefault("logging.rotation.max_age", 14)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.daily", false)
	v.SetDefault("logging.components", DefaultComponentLevels)

	v.SetDefault("daemon.auto_start", true)
	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.pid_path", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", DefaultMetricsAddress)
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml is searched in:
//   - $XDG_CONFIG_HOME/demote/
//   - $HOME/.config/demote/
//
// and a missing file leaves the defaults. Environment variables prefixed
// with DEMOTE_ override both (DEMOTE_INTERVAL, DEMOTE_LOGGING_LEVEL).
// Empty paths are resolved to their XDG defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, appName))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", appName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	var err error
	if c.Daemon.SocketPath, err = ExpandPath(c.Daemon.SocketPath); err != nil {
		return err
	}
	if c.Daemon.PIDPath, err = ExpandPath(c.Daemon.PIDPath); err != nil {
		return err
	}
	if c.History.Path, err = ExpandPath(c.History.Path); err != nil {
		return err
	}
	if c.Logging.Path, err = ExpandPath(c.Logging.Path); err != nil {
		return err
	}

	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = DefaultSocketPath()
	}
	if c.Daemon.PIDPath == "" {
		c.Daemon.PIDPath = DefaultPIDPath()
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath()
	}
	return nil
}

// Validate checks the values the monitor depends on.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		name := strings.TrimSpace(t)
		if name == "" {
			return fmt.Errorf("%w: empty target name", ErrInvalidConfig)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate target %q", ErrInvalidConfig, name)
		}
		seen[key] = struct{}{}
	}
	if c.Interval <= 0 || c.Interval > MaxInterval {
		return fmt.Errorf("%w: interval must be between 1 and %d seconds, got %d", ErrInvalidConfig, MaxInterval, c.Interval)
	}
	if _, err := policy.ParsePriority(c.Priority); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Logging.Rotation.Bytes(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("%w: history.retention_days must not be negative", ErrInvalidConfig)
	}
	return nil
}

// PriorityClass returns the parsed target priority.
func (c *Config) PriorityClass() policy.PriorityClass {
	p, err := policy.ParsePriority(c.Priority)
	if err != nil {
		return policy.PriorityIdle
	}
	return p
}

// Bytes parses MaxSize ("5MB", "512KiB"). Empty means the logging default.
func (r RotationConfig) Bytes() (int64, error) {
	if strings.TrimSpace(r.MaxSize) == "" {
		return logging.DefaultRotationConfig().MaxSize, nil
	}
	n, err := humanize.ParseBytes(r.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("logging.rotation.max_size %q: %w", r.MaxSize, err)
	}
	return int64(n), nil
}

// LogConfig converts the logging section for logging.Init. consoleLevel
// enables the stderr mirror when non-empty.
func (c *Config) LogConfig(consoleLevel string) (logging.Config, error) {
	size, err := c.Logging.Rotation.Bytes()
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level: c.Logging.Level,
		Path:  c.Logging.Path,
		Rotation: logging.RotationConfig{
			MaxSize:    size,
			MaxAge:     c.Logging.Rotation.MaxAge,
			MaxBackups: c.Logging.Rotation.MaxBackups,
			Daily:      c.Logging.Rotation.Daily,
		},
		Components:   c.Logging.Components,
		ConsoleLevel: consoleLevel,
	}, nil
}

// ParseInterval parses a poll interval given in whole seconds.
func ParseInterval(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("interval %q is not a whole number of seconds", s)
	}
	if n <= 0 || n > MaxInterval {
		return 0, fmt.Errorf("interval must be between 1 and %d seconds, got %d", MaxInterval, n)
	}
	return n, nil
}

// WriteDefault writes a commented config.yaml to ConfigDir and returns its
// path. An existing file is left alone.
func WriteDefault() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultFile()), 0o644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

func defaultFile() string {
	var targets strings.Builder
	for _, t := range DefaultTargets {
		fmt.Fprintf(&targets, "  - %s\n", t)
	}
	return fmt.Sprintf(`# demote configuration

# Executables to demote, matched by exact image name (case-insensitive)
targets:
%s
# Seconds between checks
interval: %d

# Scheduling class forced onto targets:
# idle, below_normal, normal, above_normal, high, realtime
priority: %s

logging:
  # debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/demote/demote.log
  path: ""
  rotation:
    max_size: 5MB
    max_age: 14       # days
    max_backups: 3
    daily: false
  components:
    daemon: info
    monitor: info
    enforcer: info
    watcher: warn

daemon:
  # Start demoted when a command needs it
  auto_start: true
  # Empty means demoted next to demote, then $PATH
  binary_path: ""
  # Empty means $XDG_DATA_HOME/demote/demote.sock
  socket_path: ""
  # Empty means $XDG_DATA_HOME/demote/demote.pid
  pid_path: ""

history:
  enabled: true
  # Empty means $XDG_DATA_HOME/demote/history
  path: ""
  retention_days: %d

metrics:
  enabled: false
  address: %s
`, targets.String(), DefaultInterval, DefaultPriority, DefaultRetentionDays, DefaultMetricsAddress)
}
