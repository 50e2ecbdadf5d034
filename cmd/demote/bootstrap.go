package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/logging"
)

// initializeLogging is the PersistentPreRunE hook. A config that fails to
// load does not stop commands such as "config init"; those that need it
// call loadConfig again and get the error.
func initializeLogging(_ *cobra.Command, _ []string) error {
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		printVerbose("config: %v", err)
		cfg = nil
	}
	return setupLogging(cfg, consoleLevel())
}

// setupLogging initializes logging from cfg, or from built-in defaults
// when cfg is nil.
func setupLogging(cfg *config.Config, console string) error {
	if cfg == nil {
		return logging.Init(logging.Config{
			Level:        "info",
			Rotation:     logging.DefaultRotationConfig(),
			ConsoleLevel: console,
		})
	}
	lc, err := cfg.LogConfig(console)
	if err != nil {
		return err
	}
	return logging.Init(lc)
}

func consoleLevel() string {
	if getVerbose() {
		return "debug"
	}
	return viper.GetString("log_level")
}

// daemonPaths returns where the daemon for cfg lives.
func daemonPaths(cfg *config.Config) client.DaemonPaths {
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = cfg.File
	}
	return client.DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Socket: cfg.Daemon.SocketPath,
		PID:    cfg.Daemon.PIDPath,
		Config: cfgPath,
	}
}

// maybeStartDaemon starts demoted when auto-start is enabled and it is not
// already running.
func maybeStartDaemon(cfg *config.Config) error {
	if !cfg.Daemon.AutoStart || viper.GetBool("no_auto_start") {
		return nil
	}
	pidPath := cfg.Daemon.PIDPath
	if pidPath == "" {
		pidPath = client.DefaultPIDPath()
	}
	if client.IsDaemonRunning(pidPath) {
		return nil
	}
	printVerbose("starting daemon...")
	return client.StartDaemon(daemonPaths(cfg))
}

// connectDaemon returns a client for the configured daemon, starting it
// first when allowed.
func connectDaemon(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := maybeStartDaemon(cfg); err != nil {
		printVerbose("auto-start failed: %v", err)
	}

	c, err := client.ConnectWithContext(ctx, cfg.Daemon.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("%w (start it with: demote daemon start)", err)
	}
	return c, nil
}
