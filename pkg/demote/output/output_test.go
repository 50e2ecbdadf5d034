package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

func sampleResult() *Result {
	checked := time.Now().Add(-3 * time.Second)
	return &Result{
		Daemon: &Daemon{
			PID:       4242,
			Version:   "1.2.3",
			StartedAt: time.Now().Add(-time.Hour),
			State:     "running",
			Interval:  2,
			Priority:  "idle",
			Targets:   []string{"SGuard64.exe", "SGuardSvc64.exe"},
			Ticks:     1800,
			Elevated:  true,
			History:   true,
		},
		Results: []types.CheckResult{
			{
				Name:    "SGuard64.exe",
				PID:     88,
				Outcome: types.Corrected,
				Status:  types.StatusText("SGuard64.exe", types.Corrected),
				Checked: checked,
				Report: types.Report{
					PriorityRead:   true,
					PriorityBefore: "high",
					PrioritySet:    true,
					PriorityFixed:  true,
					AffinityRead:   true,
					AffinityBefore: 0xff,
					TargetMask:     0x80,
					CoreCount:      8,
				},
			},
			{
				Name:    "SGuardSvc64.exe",
				Outcome: types.NotRunning,
				Status:  types.StatusText("SGuardSvc64.exe", types.NotRunning),
				Checked: checked,
			},
		},
	}
}

func sampleEvent() types.StatusEvent {
	return types.EventFromResult(types.CheckResult{
		Name:    "SGuard64.exe",
		PID:     88,
		Outcome: types.Compliant,
		Status:  types.StatusText("SGuard64.exe", types.Compliant),
		Checked: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, types.SourceManual, 0)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b", func() Formatter { return &PlainFormatter{} })
	r.Register("a", func() Formatter { return &JSONFormatter{} })

	assert.Equal(t, []string{"a", "b"}, r.Available())

	f, err := r.Get("a")
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, f)

	_, err = r.Get("missing")
	assert.ErrorContains(t, err, "unknown formatter: missing")
}

func TestDefaultRegistry(t *testing.T) {
	for _, name := range []string{"json", "plain", "table", "template", "yaml"} {
		assert.Contains(t, Available(), name)
		f, err := Get(name)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "0x80", Mask(0x80))
	assert.Equal(t, "0x8000000000000000", Mask(1<<63))
	assert.Equal(t, "0x0", Mask(0))
}

func TestClassStyle(t *testing.T) {
	assert.Equal(t, ColorSuccess, ClassStyle(types.ClassCompliant).GetForeground())
	assert.Equal(t, ColorWarning, ClassStyle(types.ClassAdjusting).GetForeground())
	assert.Equal(t, ColorDanger, ClassStyle(types.ClassFailure).GetForeground())
	assert.Equal(t, ColorMuted, ClassStyle(types.ClassNotRunning).GetForeground())
}

func TestPlainFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "running")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "1,800")
	assert.Contains(t, out, "SGuard64.exe, SGuardSvc64.exe")
	assert.Contains(t, out, "SGuard64.exe: ✨ adjusting")
	assert.Contains(t, out, "pid 88")
	assert.Contains(t, out, "priority high (fixed)")
	assert.Contains(t, out, "affinity 0xff -> 0x80")
	assert.Contains(t, out, "SGuardSvc64.exe: not running")
	assert.Contains(t, out, "seconds ago")
	assert.NotContains(t, out, "Elevated")
}

func TestPlainFormatter_NotElevated(t *testing.T) {
	r := &Result{Daemon: &Daemon{State: "running", Interval: 2}}
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, r))
	assert.Contains(t, buf.String(), "Elevated")
	assert.Contains(t, buf.String(), "disabled")
}

func TestPlainFormatter_History(t *testing.T) {
	r := &Result{History: []types.HistoryRecord{{
		Time:     time.Now(),
		Name:     "SGuard64.exe",
		PID:      7,
		Outcome:  types.Corrected,
		Previous: "compliant",
		Source:   types.SourceTick,
	}}}
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, r))
	assert.Contains(t, buf.String(), "compliant -> corrected")
	assert.Contains(t, buf.String(), "pid 7")
}

func TestPlainFormatter_Event(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).FormatEvent(&buf, sampleEvent()))
	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, "SGuard64.exe: ✓ compliant")
	assert.Contains(t, line, "manual")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleResult()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "daemon")
	assert.NotContains(t, decoded, "history")

	results := decoded["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "corrected", first["outcome"])
	assert.Equal(t, "128", first["report"].(map[string]any)["target_mask"])
}

func TestJSONFormatter_EventIsOneLine(t *testing.T) {
	var buf bytes.Buffer
	f := &JSONFormatter{}
	require.NoError(t, f.FormatEvent(&buf, sampleEvent()))
	require.NoError(t, f.FormatEvent(&buf, sampleEvent()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var ev types.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, types.Compliant, ev.Outcome)
	assert.Equal(t, types.ClassCompliant, ev.Class)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "daemon:")
	assert.Contains(t, out, "  pid: 4242")
	assert.Contains(t, out, "outcome: corrected")
	assert.Contains(t, out, "target_mask: 128")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded["results"], 2)
}

func TestYAMLFormatter_Event(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).FormatEvent(&buf, sampleEvent()))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "---\n"))
	assert.Contains(t, out, "name: SGuard64.exe")
	assert.Contains(t, out, "source: manual")
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, sampleResult()))
	out := buf.String()

	for _, want := range []string{"TARGET", "STATUS", "AFFINITY", "SGuard64.exe", "corrected", "0xff -> 0x80", "high", "not_running"} {
		assert.Contains(t, out, want)
	}
}

func TestTableFormatter_History(t *testing.T) {
	r := &Result{History: []types.HistoryRecord{{
		Time:    time.Now(),
		Name:    "SGuard64.exe",
		Outcome: types.Unreachable,
		Source:  types.SourceTick,
	}}}
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "unreachable")
	assert.NotContains(t, out, "AFFINITY")
}

func TestTableFormatter_Event(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).FormatEvent(&buf, sampleEvent()))
	fields := strings.Fields(buf.String())
	require.Len(t, fields, 5)
	assert.Equal(t, "SGuard64.exe", fields[1])
	assert.Equal(t, "compliant", fields[2])
	assert.Equal(t, "88", fields[3])
	assert.Equal(t, "manual", fields[4])
}

func TestTemplateFormatter(t *testing.T) {
	f := NewTemplateFormatter(`{{range .Results}}{{.Name}}={{mask .Report.TargetMask}}
{{end}}`)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "SGuard64.exe=0x80\nSGuardSvc64.exe=0x0\n", buf.String())
}

func TestTemplateFormatter_Event(t *testing.T) {
	f := NewTemplateFormatter(`{{.Name}} {{date .Time "2006-01-02"}}`)
	var buf bytes.Buffer
	require.NoError(t, f.FormatEvent(&buf, sampleEvent()))
	assert.Equal(t, "SGuard64.exe 2026-03-01", buf.String())
}

func TestTemplateFormatter_Default(t *testing.T) {
	f, err := Get("template")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatEvent(&buf, sampleEvent()))
	assert.Equal(t, "SGuard64.exe\tcompliant\t88\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Contains(t, buf.String(), "SGuard64.exe\tcorrected\t88\n")
}

func TestTemplateFormatter_ParseError(t *testing.T) {
	f := NewTemplateFormatter("{{.Name")
	var buf bytes.Buffer
	assert.Error(t, f.Format(&buf, &Result{}))
	assert.Error(t, f.FormatEvent(&buf, sampleEvent()))
}
