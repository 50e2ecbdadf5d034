package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/demote/config"
)

// Process exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitUsage      = 2
	exitDaemonDown = 3
)

// usageError marks errors caused by bad arguments or flags.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// usageArgs wraps a positional argument validator so its failures exit
// with exitUsage.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usage(fn(cmd, args))
	}
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, client.ErrDaemonNotRunning):
		return exitDaemonDown
	case errors.As(err, &ue),
		errors.Is(err, monitor.ErrInvalidInterval),
		errors.Is(err, config.ErrInvalidConfig):
		return exitUsage
	default:
		return exitError
	}
}
