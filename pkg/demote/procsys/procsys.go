// Package procsys is the thin OS layer underneath the enforcer. It lists the
// process table, opens scoped process handles (leases) and reads or writes a
// process's priority class and CPU affinity mask.
//
// Each supported OS has its own implementation selected by build tags; Fake
// is an in-memory implementation for tests.
package procsys

import (
	"errors"

	"github.com/jamesainslie/demote/pkg/demote/policy"
)

var (
	// ErrUnsupported is returned on platforms without an implementation.
	ErrUnsupported = errors.New("process control not supported on this platform")

	// ErrAccessDenied is returned when a handle cannot be opened for lack of rights.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoProcess is returned when the process exited before it could be opened.
	ErrNoProcess = errors.New("no such process")

	// ErrLeaseClosed is returned by lease operations after Close.
	ErrLeaseClosed = errors.New("lease closed")
)

// Process is one entry of the process table.
type Process struct {
	PID  int
	Name string
}

// Lease is a handle to one process opened with query and set-information
// rights. It must be closed on every path; Close is idempotent.
type Lease interface {
	PID() int
	Priority() (policy.PriorityClass, error)
	SetPriority(policy.PriorityClass) error
	Affinity() (uint64, error)
	SetAffinity(mask uint64) error
	Close() error
}

// System is the process table and handle factory of the host OS.
type System interface {
	// Processes returns a snapshot of the process table.
	Processes() ([]Process, error)

	// Open acquires a lease on pid.
	Open(pid int) (Lease, error)

	// LogicalCores returns the number of logical CPUs in the system.
	LogicalCores() (int, error)
}
