package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/output"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

// rpcTimeout bounds every unary call to the daemon.
const rpcTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's latest results",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runStatus,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the daemon to check every target now",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runRefresh,
}

var intervalCmd = &cobra.Command{
	Use:   "interval <seconds>",
	Short: "Change the daemon's poll interval",
	Long: `Change how often the daemon checks its targets. The new interval applies
from the next wait; it is not persisted to the config file.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runInterval,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status events from the daemon",
	Long: `Print every status event the daemon publishes until interrupted. With
-o json each event is one JSON object per line.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runWatch,
}

var watchTargets []string

func init() {
	watchCmd.Flags().StringSliceVarP(&watchTargets, "target", "t", nil, "only show events for these targets (repeatable)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(intervalCmd)
	rootCmd.AddCommand(watchCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()

	c, err := connectDaemon(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.GetStatus(ctx)
	if err != nil {
		return err
	}
	return render(f, &output.Result{Daemon: daemonInfo(st), Results: st.Results})
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()

	c, err := connectDaemon(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Refresh(ctx)
	if err != nil {
		return err
	}
	return render(f, &output.Result{Results: results})
}

func runInterval(cmd *cobra.Command, args []string) error {
	seconds, err := config.ParseInterval(args[0])
	if err != nil {
		return usage(err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()

	c, err := connectDaemon(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetInterval(ctx, seconds); err != nil {
		return err
	}
	printInfo("Poll interval set to %ds", seconds)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	c, err := connectDaemon(dialCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Watch(ctx, watchTargets, func(ev types.StatusEvent) error {
		return renderEvent(f, ev)
	})
}
