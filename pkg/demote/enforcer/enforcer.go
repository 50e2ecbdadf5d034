// Package enforcer finds a process by image name and forces it onto the
// configured priority class and affinity mask.
//
// CheckAndFix reports everything as data. OS failures are absorbed into the
// returned CheckResult and logged at debug level; the enforcer never returns
// an error and never panics on OS errors.
package enforcer

import (
	"strings"
	"time"

	"github.com/jamesainslie/demote/pkg/demote/logging"
	"github.com/jamesainslie/demote/pkg/demote/policy"
	"github.com/jamesainslie/demote/pkg/demote/procsys"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var log = logging.Get("enforcer")

// Enforcer applies a Policy to named processes through a procsys.System.
type Enforcer struct {
	sys    procsys.System
	policy policy.Policy
	now    func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithPriority overrides the target priority class.
func WithPriority(p policy.PriorityClass) Option {
	return func(e *Enforcer) { e.policy.Priority = p }
}

// WithClock sets the time source used for CheckResult.Checked.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// New returns an Enforcer using the idle, last-core policy over sys.
func New(sys procsys.System, opts ...Option) *Enforcer {
	e := &Enforcer{
		sys:    sys,
		policy: policy.Default(sys.LogicalCores),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the enforced policy.
func (e *Enforcer) Policy() policy.Policy { return e.policy }

// Find returns the first process whose image name equals name ignoring
// case. A failed enumeration is treated as not found.
func (e *Enforcer) Find(name string) (procsys.Process, bool) {
	procs, err := e.sys.Processes()
	if err != nil {
		log.Debug("process enumeration failed", "target", name, "error", err)
		return procsys.Process{}, false
	}
	for _, p := range procs {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return procsys.Process{}, false
}

// CheckAndFix checks the first process named name and corrects its
// priority and affinity when they differ from the policy.
func (e *Enforcer) CheckAndFix(name string) (res types.CheckResult) {
	res = types.CheckResult{Name: name, Outcome: types.NotRunning}
	defer func() {
		res.Status = types.StatusText(name, res.Outcome)
		res.Checked = e.now()
	}()

	proc, ok := e.Find(name)
	if !ok {
		return res
	}
	res.PID = proc.PID

	lease, err := e.sys.Open(proc.PID)
	if err != nil {
		log.Debug("open failed", "target", name, "pid", proc.PID, "error", err)
		res.Outcome = types.Unreachable
		return res
	}
	defer func() {
		if err := lease.Close(); err != nil {
			log.Debug("close failed", "target", name, "pid", proc.PID, "error", err)
		}
	}()

	corrected := e.fixPriority(lease, name, &res.Report)
	if e.fixAffinity(lease, name, &res.Report) {
		corrected = true
	}

	if corrected {
		res.Outcome = types.Corrected
	} else {
		res.Outcome = types.Compliant
	}
	return res
}

// fixPriority reports whether a correction was attempted. An unreadable
// priority counts as non-compliant.
func (e *Enforcer) fixPriority(lease procsys.Lease, name string, rep *types.Report) bool {
	want := e.policy.Priority

	current, err := lease.Priority()
	if err != nil {
		log.Debug("priority read failed", "target", name, "pid", lease.PID(), "error", err)
	} else {
		rep.PriorityRead = true
		rep.PriorityBefore = current.String()
		if current == want {
			return false
		}
	}

	rep.PrioritySet = true
	if err := lease.SetPriority(want); err != nil {
		log.Debug("priority set failed", "target", name, "pid", lease.PID(), "want", want, "error", err)
		return true
	}
	rep.PriorityFixed = true
	log.Debug("priority corrected", "target", name, "pid", lease.PID(), "from", rep.PriorityBefore, "to", want)
	return true
}

func (e *Enforcer) fixAffinity(lease procsys.Lease, name string, rep *types.Report) bool {
	mask, cores := e.policy.TargetMask()
	rep.TargetMask = mask
	rep.CoreCount = cores

	current, err := lease.Affinity()
	if err != nil {
		log.Debug("affinity read failed", "target", name, "pid", lease.PID(), "error", err)
	} else {
		rep.AffinityRead = true
		rep.AffinityBefore = current
		if current == mask {
			return false
		}
	}

	rep.AffinitySet = true
	if err := lease.SetAffinity(mask); err != nil {
		log.Debug("affinity set failed", "target", name, "pid", lease.PID(), "mask", mask, "error", err)
		return true
	}
	rep.AffinityFixed = true
	log.Debug("affinity corrected", "target", name, "pid", lease.PID(), "from", current, "to", mask)
	return true
}
