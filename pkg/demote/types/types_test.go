package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_Class(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    Class
	}{
		{NotRunning, ClassNotRunning},
		{Unreachable, ClassFailure},
		{Compliant, ClassCompliant},
		{Corrected, ClassAdjusting},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.Class())
		})
	}
}

func TestParseOutcome(t *testing.T) {
	for _, o := range []Outcome{NotRunning, Unreachable, Compliant, Corrected} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}

	_, err := ParseOutcome("sideways")
	assert.Error(t, err)
}

func TestCheckResult_Running(t *testing.T) {
	assert.False(t, CheckResult{Outcome: NotRunning}.Running())
	assert.True(t, CheckResult{Outcome: Unreachable}.Running())
	assert.True(t, CheckResult{Outcome: Compliant}.Running())
	assert.True(t, CheckResult{Outcome: Corrected}.Running())
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "A.exe: not running", StatusText("A.exe", NotRunning))
	assert.Contains(t, StatusText("B.exe", Corrected), "adjusting")
	assert.Contains(t, StatusText("B.exe", Compliant), "compliant")
	assert.Contains(t, StatusText("B.exe", Unreachable), "access denied")
}

func TestEventFromResult(t *testing.T) {
	checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := CheckResult{
		Name:    "B.exe",
		PID:     42,
		Outcome: Corrected,
		Status:  StatusText("B.exe", Corrected),
		Checked: checked,
	}

	ev := EventFromResult(r, SourceTick, 7)
	assert.Equal(t, "B.exe", ev.Name)
	assert.True(t, ev.Running)
	assert.Equal(t, ClassAdjusting, ev.Class)
	assert.Equal(t, 42, ev.PID)
	assert.Equal(t, checked, ev.Time)
	assert.Equal(t, SourceTick, ev.Source)
	assert.Equal(t, uint64(7), ev.Tick)
}

func TestEventFromResult_ZeroTime(t *testing.T) {
	ev := EventFromResult(CheckResult{Name: "A.exe"}, SourceManual, 0)
	assert.False(t, ev.Time.IsZero())
	assert.False(t, ev.Running)
}
