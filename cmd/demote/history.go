package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/daemon/store"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/output"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show what was corrected and when",
	Long: `Show the enforcement journal, newest first. The journal records every
correction and access failure, and every change of a target's outcome.

The journal is read through the daemon when it is running, and directly
from disk otherwise.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runHistory,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove entries older than the retention period",
	Long: `Remove journal entries older than history.retention_days. The daemon does
this hourly on its own; this command only works while it is stopped.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show (0 for all)")

	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if historyLimit < 0 {
		return usage(fmt.Errorf("--limit must not be negative, got %d", historyLimit))
	}
	f, err := newFormatter()
	if err != nil {
		return err
	}

	records, err := readHistory(cmd.Context(), cfg, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 && outputFormat == "plain" {
		printInfo("No history entries found.")
		return nil
	}
	return render(f, &output.Result{History: records})
}

// readHistory asks the daemon when it is running and opens the journal
// itself otherwise; badger allows only one process at a time.
func readHistory(ctx context.Context, cfg *config.Config, limit int) ([]types.HistoryRecord, error) {
	if !cfg.History.Enabled {
		return nil, client.ErrHistoryDisabled
	}

	if client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		c, err := client.ConnectWithContext(ctx, cfg.Daemon.SocketPath)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.History(ctx, limit)
	}

	printVerbose("daemon not running, reading %s", cfg.History.Path)
	s, err := store.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Recent(limit)
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return client.ErrHistoryDisabled
	}
	if client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		return errors.New("the daemon holds the journal; stop it first or let it prune on its own")
	}

	n, err := pruneHistory(cfg.History.Path, cfg.History.RetentionDays, time.Now())
	if err != nil {
		return err
	}
	printInfo("Removed %d history entries", n)
	return nil
}

// pruneHistory removes records older than retentionDays before now. Zero
// retention keeps everything.
func pruneHistory(dir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	s, err := store.Open(dir)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.Prune(now.AddDate(0, 0, -retentionDays))
}
