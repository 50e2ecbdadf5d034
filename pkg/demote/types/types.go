// Package types provides the core data types shared by the enforcer, the
// monitor loop, the daemon and the CLI: per-target check results, status
// classes and the status events published to observers.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the tagged result of a single check-and-fix call.
type Outcome int

const (
	// NotRunning means no process with the target image name was found.
	NotRunning Outcome = iota

	// Unreachable means the process exists but no handle could be obtained.
	Unreachable

	// Compliant means the process already had the target priority and affinity.
	Compliant

	// Corrected means at least one correction was attempted during this check.
	Corrected
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case NotRunning:
		return "not_running"
	case Unreachable:
		return "unreachable"
	case Compliant:
		return "compliant"
	case Corrected:
		return "corrected"
	default:
		return "unknown"
	}
}

// ParseOutcome converts the output of Outcome.String back into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_running":
		return NotRunning, nil
	case "unreachable":
		return Unreachable, nil
	case "compliant":
		return Compliant, nil
	case "corrected":
		return Corrected, nil
	default:
		return NotRunning, fmt.Errorf("unknown outcome %q", s)
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	parsed, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Class is the four-way status classification used for color coding.
type Class string

const (
	ClassNotRunning Class = "not-running"
	ClassAdjusting  Class = "adjusting"
	ClassCompliant  Class = "compliant"
	ClassFailure    Class = "failure"
)

// Class maps an outcome to its presentation class.
func (o Outcome) Class() Class {
	switch o {
	case Corrected:
		return ClassAdjusting
	case Compliant:
		return ClassCompliant
	case Unreachable:
		return ClassFailure
	default:
		return ClassNotRunning
	}
}

// Report records what happened to each individual OS operation during a
// check. Failures are recorded here instead of being propagated. Masks are
// JSON strings because 64-bit values do not survive a float64.
type Report struct {
	PriorityRead   bool   `json:"priority_read" yaml:"priority_read"`
	PriorityBefore string `json:"priority_before,omitempty" yaml:"priority_before,omitempty"`
	PrioritySet    bool   `json:"priority_set" yaml:"priority_set"`
	PriorityFixed  bool   `json:"priority_fixed" yaml:"priority_fixed"`

	AffinityRead   bool   `json:"affinity_read" yaml:"affinity_read"`
	AffinityBefore uint64 `json:"affinity_before,omitempty,string" yaml:"affinity_before,omitempty"`
	AffinitySet    bool   `json:"affinity_set" yaml:"affinity_set"`
	AffinityFixed  bool   `json:"affinity_fixed" yaml:"affinity_fixed"`

	TargetMask uint64 `json:"target_mask,string" yaml:"target_mask"`
	CoreCount  int    `json:"core_count" yaml:"core_count"`
}

// CheckResult is the outcome of one check-and-fix call for one target name.
type CheckResult struct {
	Name    string    `json:"name" yaml:"name"`
	PID     int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Outcome Outcome   `json:"outcome" yaml:"outcome"`
	Status  string    `json:"status" yaml:"status"`
	Report  Report    `json:"report" yaml:"report"`
	Checked time.Time `json:"checked" yaml:"checked"`
}

// Running reports whether the target process was present.
func (r CheckResult) Running() bool {
	return r.Outcome != NotRunning
}

// StatusText returns the short human-readable status for a name and outcome.
func StatusText(name string, o Outcome) string {
	switch o {
	case NotRunning:
		return name + ": not running"
	case Unreachable:
		return name + ": ✗ access denied"
	case Corrected:
		return name + ": ✨ adjusting"
	case Compliant:
		return name + ": ✓ compliant"
	default:
		return name + ": unknown"
	}
}

// Source identifies what triggered a status event.
type Source string

const (
	SourceTick   Source = "tick"
	SourceManual Source = "manual"
)

// StatusEvent is published once per target per tick, and once per target on
// every manual refresh.
type StatusEvent struct {
	Name    string    `json:"name" yaml:"name"`
	Running bool      `json:"running" yaml:"running"`
	Status  string    `json:"status" yaml:"status"`
	Class   Class     `json:"class" yaml:"class"`
	Outcome Outcome   `json:"outcome" yaml:"outcome"`
	PID     int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Time    time.Time `json:"time" yaml:"time"`
	Source  Source    `json:"source" yaml:"source"`
	Tick    uint64    `json:"tick,omitempty" yaml:"tick,omitempty"`
}

// EventFromResult builds the status event for a check result.
func EventFromResult(r CheckResult, src Source, tick uint64) StatusEvent {
	at := r.Checked
	if at.IsZero() {
		at = time.Now()
	}
	return StatusEvent{
		Name:    r.Name,
		Running: r.Running(),
		Status:  r.Status,
		Class:   r.Outcome.Class(),
		Outcome: r.Outcome,
		PID:     r.PID,
		Time:    at,
		Source:  src,
		Tick:    tick,
	}
}

// HistoryRecord is one entry of the enforcement journal.
type HistoryRecord struct {
	Time     time.Time `json:"time" yaml:"time"`
	Name     string    `json:"name" yaml:"name"`
	PID      int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Outcome  Outcome   `json:"outcome" yaml:"outcome"`
	Previous string    `json:"previous,omitempty" yaml:"previous,omitempty"`
	Source   Source    `json:"source" yaml:"source"`
	Status   string    `json:"status" yaml:"status"`
	Report   Report    `json:"report" yaml:"report"`
}
