package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/jamesainslie/demote/pkg/client"
	"github.com/jamesainslie/demote/pkg/demote/output"
)

func TestParseCommaSeparated(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "SGuard64.exe", []string{"SGuard64.exe"}},
		{"multiple", "A.exe,B.exe", []string{"A.exe", "B.exe"}},
		{"whitespace", " A.exe , B.exe ", []string{"A.exe", "B.exe"}},
		{"empty parts", "A.exe,,B.exe,", []string{"A.exe", "B.exe"}},
		{"only commas", ",,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCommaSeparated(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommaSeparated(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func setOutputFlags(t *testing.T, format, tmpl string) {
	t.Helper()
	oldF, oldT := outputFormat, templateStr
	outputFormat, templateStr = format, tmpl
	t.Cleanup(func() { outputFormat, templateStr = oldF, oldT })
}

func TestNewFormatter(t *testing.T) {
	for _, name := range output.Available() {
		setOutputFlags(t, name, "")
		f, err := newFormatter()
		if err != nil {
			t.Errorf("newFormatter(%q) returned error: %v", name, err)
		}
		if f == nil {
			t.Errorf("newFormatter(%q) returned nil", name)
		}
	}
}

func TestNewFormatterUnknown(t *testing.T) {
	setOutputFlags(t, "xml", "")

	_, err := newFormatter()
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exitCode = %d, want %d", got, exitUsage)
	}
}

func TestNewFormatterCustomTemplate(t *testing.T) {
	setOutputFlags(t, "template", "{{.Name}}")

	f, err := newFormatter()
	if err != nil {
		t.Fatalf("newFormatter() returned error: %v", err)
	}
	if _, ok := f.(*output.TemplateFormatter); !ok {
		t.Errorf("newFormatter() = %T, want *output.TemplateFormatter", f)
	}
}

func TestDaemonInfo(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := &client.Status{
		PID:         99,
		Version:     "1.0.0",
		StartedAt:   started,
		State:       "running",
		Interval:    5,
		Priority:    "idle",
		Targets:     []string{"A.exe"},
		Ticks:       12,
		Subscribers: 2,
		Elevated:    true,
		History:     true,
	}

	got := daemonInfo(st)
	want := &output.Daemon{
		PID:         99,
		Version:     "1.0.0",
		StartedAt:   started,
		State:       "running",
		Interval:    5,
		Priority:    "idle",
		Targets:     []string{"A.exe"},
		Ticks:       12,
		Subscribers: 2,
		Elevated:    true,
		History:     true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("daemonInfo() = %+v, want %+v", got, want)
	}
}
