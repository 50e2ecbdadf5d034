package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/daemon"
	"github.com/jamesainslie/demote/pkg/demote/output"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the demoted daemon",
	Long: `Manage demoted, the background process that keeps the targets demoted.

Commands that talk to the daemon start it on demand unless
daemon.auto_start is false or --no-auto-start is given.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the demoted daemon",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the demoted daemon",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the demoted daemon",
	Long:  `Stop and start demoted, picking up target and priority changes from the config file.`,
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := daemonPaths(cfg)
	if client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		printInfo("Daemon already running")
		return nil
	}

	printVerbose("starting daemon (socket %s)", paths.Socket)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		return fmt.Errorf("%w: no live process in %s", client.ErrDaemonNotRunning, cfg.Daemon.PIDPath)
	}

	printVerbose("stopping daemon...")
	if err := client.StopDaemon(daemonPaths(cfg)); err != nil {
		return err
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := client.RestartDaemon(daemonPaths(cfg)); err != nil {
		return err
	}
	printInfo("Daemon restarted")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := newFormatter()
	if err != nil {
		return err
	}

	if !client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		st, err := daemon.ReadStatus(daemon.StatusPath(cfg.Daemon.SocketPath))
		if err == nil && st.Status == daemon.StatusError {
			printInfo("Daemon status: not running (last start failed: %s)", st.Error)
		} else {
			printInfo("Daemon status: not running")
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()

	c, err := client.ConnectWithContext(ctx, cfg.Daemon.SocketPath)
	if err != nil {
		printInfo("Daemon status: running (but not responding)")
		return nil
	}
	defer c.Close()

	st, err := c.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get daemon status: %w", err)
	}
	return render(f, &output.Result{Daemon: daemonInfo(st)})
}
