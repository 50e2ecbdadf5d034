package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// ConfigDir returns $XDG_CONFIG_HOME/demote, falling back to ~/.config/demote.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigPath is config.yaml inside ConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/demote/ for the socket, pid file and history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// StateDir returns $XDG_STATE_HOME/demote/ for logs.
func StateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

func DefaultSocketPath() string  { return filepath.Join(DataDir(), "demote.sock") }
func DefaultPIDPath() string     { return filepath.Join(DataDir(), "demote.pid") }
func DefaultHistoryPath() string { return filepath.Join(DataDir(), "history") }

// EnsureDataDir creates DataDir.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
