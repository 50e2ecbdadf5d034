package procsys

import (
	"fmt"
	"sync"

	"github.com/jamesainslie/demote/pkg/demote/policy"
)

// FakeProcess is a process in a Fake process table.
type FakeProcess struct {
	PID      int
	Name     string
	Priority policy.PriorityClass
	Affinity uint64

	// Protected makes Open fail with ErrAccessDenied.
	Protected bool

	// Injected per-operation failures.
	PriorityReadErr error
	PrioritySetErr  error
	AffinityReadErr error
	AffinitySetErr  error
}

// Fake is an in-memory System for tests. It records every mutating call
// and tracks how many leases are currently open.
type Fake struct {
	mu    sync.Mutex
	procs []*FakeProcess

	cores    int
	coresErr error
	listErr  error
	openHook func(pid int)

	opened       int
	closed       int
	prioritySets int
	affinitySets int
}

// NewFake returns an empty Fake reporting the given logical core count.
func NewFake(cores int) *Fake {
	return &Fake{cores: cores}
}

// Add appends a process to the table.
func (f *Fake) Add(p FakeProcess) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.procs = append(f.procs, &cp)
}

// Remove deletes the process with pid from the table.
func (f *Fake) Remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.procs {
		if p.PID == pid {
			f.procs = append(f.procs[:i], f.procs[i+1:]...)
			return
		}
	}
}

// Update applies fn to the process with pid.
func (f *Fake) Update(pid int, fn func(p *FakeProcess)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.find(pid); p != nil {
		fn(p)
	}
}

// Get returns a copy of the process with pid.
func (f *Fake) Get(pid int) (FakeProcess, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.find(pid); p != nil {
		return *p, true
	}
	return FakeProcess{}, false
}

// SetCores changes the reported core count and its error.
func (f *Fake) SetCores(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cores = n
	f.coresErr = err
}

// SetListErr makes Processes fail with err.
func (f *Fake) SetListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// OnOpen installs a hook run at the start of every Open call. Tests use it
// to block, count or panic inside the OS layer.
func (f *Fake) OnOpen(hook func(pid int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openHook = hook
}

// SetCalls returns the number of priority and affinity set calls so far.
func (f *Fake) SetCalls() (priority, affinity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prioritySets, f.affinitySets
}

// OpenLeases returns the number of leases opened and not yet closed.
func (f *Fake) OpenLeases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened - f.closed
}

// Opened returns the total number of successful Open calls.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *Fake) find(pid int) *FakeProcess {
	for _, p := range f.procs {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// Processes returns a snapshot of the fake table.
func (f *Fake) Processes() ([]Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Process, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, Process{PID: p.PID, Name: p.Name})
	}
	return out, nil
}

// Open leases a fake process.
func (f *Fake) Open(pid int) (Lease, error) {
	f.mu.Lock()
	hook := f.openHook
	f.mu.Unlock()
	if hook != nil {
		hook(pid)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(pid)
	if p == nil {
		return nil, fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
	}
	if p.Protected {
		return nil, fmt.Errorf("%w: pid %d", ErrAccessDenied, pid)
	}
	f.opened++
	return &fakeLease{sys: f, pid: pid}, nil
}

// LogicalCores returns the configured core count.
func (f *Fake) LogicalCores() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cores, f.coresErr
}

type fakeLease struct {
	sys    *Fake
	pid    int
	closed bool
}

func (l *fakeLease) PID() int { return l.pid }

// proc must be called with l.sys.mu held.
func (l *fakeLease) proc() (*FakeProcess, error) {
	if l.closed {
		return nil, ErrLeaseClosed
	}
	p := l.sys.find(l.pid)
	if p == nil {
		return nil, ErrNoProcess
	}
	return p, nil
}

func (l *fakeLease) Priority() (policy.PriorityClass, error) {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	p, err := l.proc()
	if err != nil {
		return policy.PriorityNormal, err
	}
	if p.PriorityReadErr != nil {
		return policy.PriorityNormal, p.PriorityReadErr
	}
	return p.Priority, nil
}

func (l *fakeLease) SetPriority(class policy.PriorityClass) error {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	l.sys.prioritySets++
	p, err := l.proc()
	if err != nil {
		return err
	}
	if p.PrioritySetErr != nil {
		return p.PrioritySetErr
	}
	p.Priority = class
	return nil
}

func (l *fakeLease) Affinity() (uint64, error) {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	p, err := l.proc()
	if err != nil {
		return 0, err
	}
	if p.AffinityReadErr != nil {
		return 0, p.AffinityReadErr
	}
	return p.Affinity, nil
}

func (l *fakeLease) SetAffinity(mask uint64) error {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	l.sys.affinitySets++
	p, err := l.proc()
	if err != nil {
		return err
	}
	if p.AffinitySetErr != nil {
		return p.AffinitySetErr
	}
	p.Affinity = mask
	return nil
}

func (l *fakeLease) Close() error {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.sys.closed++
	return nil
}

var _ System = (*Fake)(nil)
