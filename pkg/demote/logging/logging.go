// Package logging provides component loggers for demote. The daemon and the
// CLI share it: every component asks for its logger by name and gets a
// charmbracelet/log logger writing to a rotating file, optionally mirrored
// to stderr.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("monitor")
//	log.Info("tick", "targets", 2)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned for unknown level names.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default level.
	Level string

	// Path of the log file. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components overrides the level per component name.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables the mirror.
	ConsoleLevel string

	// Output replaces the rotating file, mainly for tests.
	Output io.Writer
}

// Logger is a component logger.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.emit(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.emit(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(LevelError, msg, args...) }

// Component returns the component name the logger was created for.
func (l *Logger) Component() string { return l.component }

func (l *Logger) emit(level Level, msg string, args ...interface{}) {
	write(l.file, level, msg, args...)
	if l.console != nil {
		write(l.console, level, msg, args...)
	}
}

func write(logger *log.Logger, level Level, msg string, args ...interface{}) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

// With returns a logger that adds the key/value pairs to every record.
func (l *Logger) With(args ...interface{}) *Logger {
	out := &Logger{
		file:      l.file.With(args...),
		component: l.component,
	}
	if l.console != nil {
		out.console = l.console.With(args...)
	}
	return out
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      io.Writer
	closer      io.Closer
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger

	consoleEnabled bool
	consoleLevel   Level
}

var global = &state{
	components: make(map[string]Level),
	loggers:    make(map[string]*Logger),
}

// Init configures logging. Loggers handed out before Init are rebuilt so
// package-level loggers pick up the configuration.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	consoleEnabled := false
	var consoleLevel Level
	if cfg.ConsoleLevel != "" {
		consoleLevel, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		consoleEnabled = true
	}

	var (
		writer io.Writer
		closer io.Closer
	)
	if cfg.Output != nil {
		writer = cfg.Output
	} else {
		path := cfg.Path
		if path == "" {
			path = DefaultLogPath()
		}
		rw, err := NewRotatingWriter(path, cfg.Rotation)
		if err != nil {
			return fmt.Errorf("creating log writer: %w", err)
		}
		writer, closer = rw, rw
	}

	if global.closer != nil {
		if err := global.closer.Close(); err != nil {
			return fmt.Errorf("closing previous writer: %w", err)
		}
	}

	global.writer = writer
	global.closer = closer
	global.level = level
	global.components = components
	global.consoleEnabled = consoleEnabled
	global.consoleLevel = consoleLevel
	global.initialized = true

	for name, existing := range global.loggers {
		*existing = *newLogger(name)
	}
	return nil
}

// Get returns the logger for a component. Before Init it discards output.
func Get(component string) *Logger {
	global.mu.RLock()
	if l, ok := global.loggers[component]; ok {
		global.mu.RUnlock()
		return l
	}
	global.mu.RUnlock()

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.loggers[component]; ok {
		return l
	}
	l := newLogger(component)
	global.loggers[component] = l
	return l
}

// newLogger must be called with global.mu held.
func newLogger(component string) *Logger {
	level := global.level
	if lvl, ok := global.components[component]; ok {
		level = lvl
	}

	if !global.initialized {
		return &Logger{
			file: log.NewWithOptions(io.Discard, log.Options{
				Level:  level.charm(),
				Prefix: component,
			}),
			component: component,
		}
	}

	l := &Logger{
		file: log.NewWithOptions(global.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
	}
	if global.consoleEnabled {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           global.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return l
}

// Close flushes and closes the log file. Loggers fall back to discarding.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.initialized {
		return nil
	}

	var err error
	if global.closer != nil {
		err = global.closer.Close()
	}
	global.writer = nil
	global.closer = nil
	global.initialized = false
	global.components = make(map[string]Level)
	for name, existing := range global.loggers {
		*existing = *newLogger(name)
	}
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath is $XDG_STATE_HOME/demote/demote.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "demote", "demote.log")
}
