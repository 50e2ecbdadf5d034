// Package policy describes the enforcement target: the scheduling priority
// class a monitored process should run at and the CPU affinity mask it
// should be pinned to.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// PriorityClass is an OS-neutral scheduling priority tier.
type PriorityClass int

// Priority classes from lowest to highest.
const (
	PriorityIdle PriorityClass = iota
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityRealtime
)

// String returns the config spelling of the class.
func (p PriorityClass) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityBelowNormal:
		return "below_normal"
	case PriorityNormal:
		return "normal"
	case PriorityAboveNormal:
		return "above_normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ErrInvalidPriority is returned when a priority class name is not recognized.
var ErrInvalidPriority = errors.New("invalid priority class")

// ParsePriority parses a priority class name. Dashes, spaces and case are ignored.
func ParsePriority(s string) (PriorityClass, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "idle", "low", "lowest":
		return PriorityIdle, nil
	case "below_normal":
		return PriorityBelowNormal, nil
	case "normal":
		return PriorityNormal, nil
	case "above_normal":
		return PriorityAboveNormal, nil
	case "high":
		return PriorityHigh, nil
	case "realtime":
		return PriorityRealtime, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// MaxMaskBits is the width of an affinity mask. Core counts above it are
// clamped so the mask still selects the last representable core.
const MaxMaskBits = 64

// TargetAffinityMask returns the mask selecting only the highest-indexed
// logical core. A count that could not be determined (<= 0) yields core 0.
func TargetAffinityMask(coreCount int) uint64 {
	if coreCount <= 0 {
		return 1
	}
	if coreCount > MaxMaskBits {
		coreCount = MaxMaskBits
	}
	return uint64(1) << uint(coreCount-1)
}

// CoreCounter reports the number of logical cores in the system.
type CoreCounter func() (int, error)

// Policy is the desired state for every monitored process.
type Policy struct {
	// Priority is the scheduling class to enforce.
	Priority PriorityClass

	// Cores is queried on every check; the result is never cached.
	Cores CoreCounter
}

// Default returns the idle-priority, last-core policy.
func Default(cores CoreCounter) Policy {
	return Policy{
		Priority: PriorityIdle,
		Cores:    cores,
	}
}

// TargetMask queries the core count and returns the target mask together
// with the count it was computed from. Query failures fall back to mask 1.
func (p Policy) TargetMask() (uint64, int) {
	if p.Cores == nil {
		return 1, 0
	}
	n, err := p.Cores()
	if err != nil {
		return 1, 0
	}
	return TargetAffinityMask(n), n
}
