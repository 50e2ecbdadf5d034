package enforcer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/demote/pkg/demote/policy"
	"github.com/jamesainslie/demote/pkg/demote/procsys"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newEnforcer(sys procsys.System, opts ...Option) *Enforcer {
	return New(sys, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestCheckAndFix_NotRunning(t *testing.T) {
	sys := procsys.NewFake(8)
	sys.Add(procsys.FakeProcess{PID: 4, Name: "explorer.exe", Priority: policy.PriorityNormal, Affinity: 0xff})

	res := newEnforcer(sys).CheckAndFix("A.exe")

	assert.Equal(t, types.NotRunning, res.Outcome)
	assert.False(t, res.Running())
	assert.Equal(t, "A.exe: not running", res.Status)
	assert.Equal(t, fixedNow, res.Checked)
	assert.Zero(t, res.PID)
	assert.Equal(t, 0, sys.Opened())

	prio, aff := sys.SetCalls()
	assert.Zero(t, prio)
	assert.Zero(t, aff)
}

func TestCheckAndFix_CorrectsThenCompliant(t *testing.T) {
	sys := procsys.NewFake(8)
	sys.Add(procsys.FakeProcess{PID: 100, Name: "B.exe", Priority: policy.PriorityNormal, Affinity: 0xff})
	e := newEnforcer(sys)

	first := e.CheckAndFix("B.exe")
	assert.Equal(t, types.Corrected, first.Outcome)
	assert.True(t, first.Running())
	assert.Equal(t, "B.exe: ✨ adjusting", first.Status)
	assert.Equal(t, 100, first.PID)
	assert.Equal(t, types.Report{
		PriorityRead:   true,
		PriorityBefore: "normal",
		PrioritySet:    true,
		PriorityFixed:  true,
		AffinityRead:   true,
		AffinityBefore: 0xff,
		AffinitySet:    true,
		AffinityFixed:  true,
		TargetMask:     0x80,
		CoreCount:      8,
	}, first.Report)

	p, ok := sys.Get(100)
	require.True(t, ok)
	assert.Equal(t, policy.PriorityIdle, p.Priority)
	assert.Equal(t, uint64(0x80), p.Affinity)

	second := e.CheckAndFix("B.exe")
	assert.Equal(t, types.Compliant, second.Outcome)
	assert.Equal(t, "B.exe: ✓ compliant", second.Status)

	prio, aff := sys.SetCalls()
	assert.Equal(t, 1, prio)
	assert.Equal(t, 1, aff)
	assert.Equal(t, 0, sys.OpenLeases())
}

func TestCheckAndFix_CompliantMakesNoSetCalls(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 7, Name: "C.exe", Priority: policy.PriorityIdle, Affinity: 0x8})
	e := newEnforcer(sys)

	for i := 0; i < 3; i++ {
		res := e.CheckAndFix("C.exe")
		assert.Equal(t, types.Compliant, res.Outcome)
	}
	prio, aff := sys.SetCalls()
	assert.Zero(t, prio)
	assert.Zero(t, aff)
	assert.Equal(t, 3, sys.Opened())
	assert.Equal(t, 0, sys.OpenLeases())
}

func TestCheckAndFix_CaseInsensitiveFirstMatch(t *testing.T) {
	sys := procsys.NewFake(2)
	sys.Add(procsys.FakeProcess{PID: 1, Name: "sguard64.EXE", Priority: policy.PriorityNormal, Affinity: 0x3})
	sys.Add(procsys.FakeProcess{PID: 2, Name: "SGuard64.exe", Priority: policy.PriorityNormal, Affinity: 0x3})
	sys.Add(procsys.FakeProcess{PID: 3, Name: "SGuard64.exe.bak", Priority: policy.PriorityNormal, Affinity: 0x3})

	res := newEnforcer(sys).CheckAndFix("SGuard64.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.Equal(t, 1, res.PID)

	untouched, _ := sys.Get(2)
	assert.Equal(t, policy.PriorityNormal, untouched.Priority)
}

func TestCheckAndFix_Unreachable(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 9, Name: "guarded.exe", Protected: true})

	res := newEnforcer(sys).CheckAndFix("guarded.exe")
	assert.Equal(t, types.Unreachable, res.Outcome)
	assert.True(t, res.Running())
	assert.Equal(t, "guarded.exe: ✗ access denied", res.Status)
	assert.Equal(t, types.ClassFailure, res.Outcome.Class())

	prio, aff := sys.SetCalls()
	assert.Zero(t, prio)
	assert.Zero(t, aff)
}

func TestCheckAndFix_ExitedBeforeOpen(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 9, Name: "short.exe"})
	sys.OnOpen(func(pid int) { sys.Remove(pid) })

	res := newEnforcer(sys).CheckAndFix("short.exe")
	assert.Equal(t, types.Unreachable, res.Outcome)
}

func TestCheckAndFix_EnumerationFailure(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 1, Name: "A.exe"})
	sys.SetListErr(errors.New("snapshot failed"))

	res := newEnforcer(sys).CheckAndFix("A.exe")
	assert.Equal(t, types.NotRunning, res.Outcome)
	assert.Equal(t, 0, sys.Opened())
}

func TestCheckAndFix_ReadFailuresCountAsNonCompliant(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{
		PID:             5,
		Name:            "A.exe",
		Priority:        policy.PriorityIdle,
		Affinity:        0x8,
		PriorityReadErr: procsys.ErrAccessDenied,
		AffinityReadErr: procsys.ErrAccessDenied,
	})

	res := newEnforcer(sys).CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.False(t, res.Report.PriorityRead)
	assert.True(t, res.Report.PrioritySet)
	assert.False(t, res.Report.AffinityRead)
	assert.True(t, res.Report.AffinitySet)

	prio, aff := sys.SetCalls()
	assert.Equal(t, 1, prio)
	assert.Equal(t, 1, aff)
}

func TestCheckAndFix_SetFailuresAreAbsorbed(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{
		PID:            5,
		Name:           "A.exe",
		Priority:       policy.PriorityNormal,
		Affinity:       0xf,
		PrioritySetErr: procsys.ErrAccessDenied,
		AffinitySetErr: procsys.ErrAccessDenied,
	})

	res := newEnforcer(sys).CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.True(t, res.Report.PrioritySet)
	assert.False(t, res.Report.PriorityFixed)
	assert.True(t, res.Report.AffinitySet)
	assert.False(t, res.Report.AffinityFixed)
	assert.Equal(t, 0, sys.OpenLeases())

	p, _ := sys.Get(5)
	assert.Equal(t, policy.PriorityNormal, p.Priority)
	assert.Equal(t, uint64(0xf), p.Affinity)
}

func TestCheckAndFix_OnlyAffinityWrong(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 5, Name: "A.exe", Priority: policy.PriorityIdle, Affinity: 0x1})

	res := newEnforcer(sys).CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.False(t, res.Report.PrioritySet)
	assert.True(t, res.Report.AffinityFixed)

	prio, aff := sys.SetCalls()
	assert.Zero(t, prio)
	assert.Equal(t, 1, aff)
}

func TestCheckAndFix_CoreCountNotCached(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 5, Name: "A.exe", Priority: policy.PriorityIdle, Affinity: 0x8})
	e := newEnforcer(sys)

	assert.Equal(t, types.Compliant, e.CheckAndFix("A.exe").Outcome)

	sys.SetCores(2, nil)
	res := e.CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.Equal(t, uint64(0x2), res.Report.TargetMask)

	sys.SetCores(0, errors.New("query failed"))
	res = e.CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)
	assert.Equal(t, uint64(1), res.Report.TargetMask)
	assert.Zero(t, res.Report.CoreCount)
}

func TestCheckAndFix_CustomPriority(t *testing.T) {
	sys := procsys.NewFake(2)
	sys.Add(procsys.FakeProcess{PID: 5, Name: "A.exe", Priority: policy.PriorityIdle, Affinity: 0x2})

	res := newEnforcer(sys, WithPriority(policy.PriorityBelowNormal)).CheckAndFix("A.exe")
	assert.Equal(t, types.Corrected, res.Outcome)

	p, _ := sys.Get(5)
	assert.Equal(t, policy.PriorityBelowNormal, p.Priority)
}

func TestNew_DefaultPolicy(t *testing.T) {
	e := New(procsys.NewFake(16))
	assert.Equal(t, policy.PriorityIdle, e.Policy().Priority)
	mask, cores := e.Policy().TargetMask()
	assert.Equal(t, uint64(1<<15), mask)
	assert.Equal(t, 16, cores)
}
