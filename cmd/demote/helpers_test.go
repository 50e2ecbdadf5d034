package main

import (
	"sync"
	"testing"

	"github.com/jamesainslie/demote/pkg/demote/config"
)

// resetConfig makes the next loadConfig read from disk again.
func resetConfig(t *testing.T) {
	t.Helper()
	cfgOnce = sync.Once{}
	appConfig, cfgErr = nil, nil
	t.Cleanup(func() {
		cfgOnce = sync.Once{}
		appConfig, cfgErr = nil, nil
	})
}

// useConfig makes loadConfig return cfg for the rest of the test.
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	resetConfig(t)
	cfgOnce.Do(func() { appConfig = cfg })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Targets:  []string{"A.exe", "B.exe"},
		Interval: 2,
		Priority: "idle",
		Logging: config.LoggingConfig{
			Level: "info",
			Path:  dir + "/demote.log",
		},
		Daemon: config.DaemonConfig{
			SocketPath: dir + "/demote.sock",
			PIDPath:    dir + "/demote.pid",
		},
		History: config.HistoryConfig{
			Enabled:       true,
			Path:          dir + "/history",
			RetentionDays: 14,
		},
	}
}
