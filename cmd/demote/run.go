package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/enforcer"
	"github.com/jamesainslie/demote/pkg/demote/output"
	"github.com/jamesainslie/demote/pkg/demote/procsys"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor targets in the foreground",
	Long: `Run the monitor loop in this process, without the daemon, printing one
line per target per check until interrupted.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runForeground,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check and fix every target once",
	Long:  `Check every target once in this process, correcting what is off, and print the results.`,
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runCheck,
}

// Local overrides for run and check.
var (
	localTargets  string
	localInterval int
	localPriority string
)

// newSystem returns the OS layer for local commands.
var newSystem = func() procsys.System { return procsys.New() }

func init() {
	for _, c := range []*cobra.Command{runCmd, checkCmd} {
		c.Flags().StringVarP(&localTargets, "targets", "t", "", "comma-separated executables (overrides config)")
		c.Flags().StringVarP(&localPriority, "priority", "p", "", "priority class to force (overrides config)")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().IntVarP(&localInterval, "interval", "i", 0, "seconds between checks (overrides config)")
}

// localConfig returns the loaded config with the command-line overrides
// applied.
func localConfig() (*config.Config, error) {
	loaded, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := *loaded
	if t := parseCommaSeparated(localTargets); len(t) > 0 {
		cfg.Targets = t
	}
	if localInterval != 0 {
		cfg.Interval = localInterval
	}
	if localPriority != "" {
		cfg.Priority = localPriority
	}
	if err := cfg.Validate(); err != nil {
		return nil, usage(err)
	}
	return &cfg, nil
}

func warnIfNotElevated() {
	if !procsys.IsElevated() && !getQuiet() {
		fmt.Fprintln(os.Stderr, "Warning: not running elevated, protected processes will be reported as access denied")
	}
}

func runForeground(cmd *cobra.Command, _ []string) error {
	cfg, err := localConfig()
	if err != nil {
		return err
	}
	f, err := newFormatter()
	if err != nil {
		return err
	}
	warnIfNotElevated()

	enf := enforcer.New(newSystem(), enforcer.WithPriority(cfg.PriorityClass()))
	mon, err := monitor.New(enf, cfg.Targets, cfg.Interval)
	if err != nil {
		return err
	}
	sub := mon.Subscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	printVerbose("monitoring %v every %ds", cfg.Targets, cfg.Interval)
	return streamEvents(ctx, sub.Events, f)
}

// streamEvents prints events until ctx ends or the channel closes.
func streamEvents(ctx context.Context, events <-chan types.StatusEvent, f output.Formatter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := renderEvent(f, ev); err != nil {
				return err
			}
		}
	}
}

func runCheck(_ *cobra.Command, _ []string) error {
	cfg, err := localConfig()
	if err != nil {
		return err
	}
	f, err := newFormatter()
	if err != nil {
		return err
	}
	warnIfNotElevated()

	return render(f, &output.Result{Results: checkOnce(newSystem(), cfg)})
}

// checkOnce runs one check-and-fix pass over the configured targets.
func checkOnce(sys procsys.System, cfg *config.Config) []types.CheckResult {
	enf := enforcer.New(sys, enforcer.WithPriority(cfg.PriorityClass()))
	results := make([]types.CheckResult, 0, len(cfg.Targets))
	for _, name := range cfg.Targets {
		results = append(results, enf.CheckAndFix(name))
	}
	return results
}
