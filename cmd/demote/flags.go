package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/demote/output"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Output flags.
var (
	outputFormat string
	templateStr  string
)

// newFormatter returns the formatter selected by --output.
func newFormatter() (output.Formatter, error) {
	if outputFormat == "template" && templateStr != "" {
		return output.NewTemplateFormatter(templateStr), nil
	}
	f, err := output.Get(outputFormat)
	if err != nil {
		return nil, usage(fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", ")))
	}
	return f, nil
}

// render writes r to stdout in the selected format.
func render(f output.Formatter, r *output.Result) error {
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

// renderEvent writes one status event to stdout.
func renderEvent(f output.Formatter, ev types.StatusEvent) error {
	var buf bytes.Buffer
	if err := f.FormatEvent(&buf, ev); err != nil {
		return fmt.Errorf("formatting event: %w", err)
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

// daemonInfo converts the daemon status reply for output.
func daemonInfo(st *client.Status) *output.Daemon {
	return &output.Daemon{
		PID:         st.PID,
		Version:     st.Version,
		StartedAt:   st.StartedAt,
		State:       st.State,
		Interval:    st.Interval,
		Priority:    st.Priority,
		Targets:     st.Targets,
		Ticks:       st.Ticks,
		Subscribers: st.Subscribers,
		Elevated:    st.Elevated,
		History:     st.History,
	}
}

// parseCommaSeparated splits a comma-separated string and trims whitespace.
func parseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
