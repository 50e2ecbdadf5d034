package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/demote/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitError},
		{"daemon down", fmt.Errorf("connect: %w", client.ErrDaemonNotRunning), exitDaemonDown},
		{"usage", usage(errors.New("bad flag")), exitUsage},
		{"invalid interval", fmt.Errorf("%w: 0", monitor.ErrInvalidInterval), exitUsage},
		{"invalid config", fmt.Errorf("%w: no targets", config.ErrInvalidConfig), exitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestUsageNil(t *testing.T) {
	if err := usage(nil); err != nil {
		t.Errorf("usage(nil) = %v, want nil", err)
	}
}

func TestUsageArgs(t *testing.T) {
	check := usageArgs(cobra.ExactArgs(1))

	if err := check(&cobra.Command{}, []string{"5"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := check(&cobra.Command{}, nil)
	if err == nil {
		t.Fatal("expected an error for missing argument")
	}
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exitCode = %d, want %d", got, exitUsage)
	}
}
