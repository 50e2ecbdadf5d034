// Package main is demoted, the background process that keeps the
// configured targets demoted and serves the demote CLI over a unix socket.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/daemon"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/logging"
)

// Set by go build -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "demoted: %v\n", err)
		if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "demoted",
		Short:         "Keep the configured processes at idle priority on the last core",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfgFile, logLevel)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/demote/config.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "mirror logs to stderr at this level")
	return cmd
}

func run(cmd *cobra.Command, cfgFile, logLevel string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.EnsureDataDir(); err != nil {
		return err
	}

	lc, err := cfg.LogConfig(logLevel)
	if err != nil {
		return err
	}
	if err := logging.Init(lc); err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	watchPath := cfgFile
	if watchPath == "" {
		watchPath = cfg.File
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: watchPath,
		Version:    version,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
