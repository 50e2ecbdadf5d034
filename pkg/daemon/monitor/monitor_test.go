package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/demote/pkg/daemon/broadcaster"
	"github.com/jamesainslie/demote/pkg/demote/enforcer"
	"github.com/jamesainslie/demote/pkg/demote/policy"
	"github.com/jamesainslie/demote/pkg/demote/procsys"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

type checkerFunc func(name string) types.CheckResult

func (f checkerFunc) CheckAndFix(name string) types.CheckResult { return f(name) }

func compliant(name string) types.CheckResult {
	return types.CheckResult{Name: name, Outcome: types.Compliant, Status: types.StatusText(name, types.Compliant)}
}

// fast returns a monitor whose interval unit is a millisecond.
func fast(t *testing.T, c Checker, targets []string, interval int, opts ...Option) *Monitor {
	t.Helper()
	m, err := New(c, targets, interval, opts...)
	require.NoError(t, err)
	m.unit = time.Millisecond
	t.Cleanup(m.Stop)
	return m
}

func next(t *testing.T, sub *broadcaster.Subscriber) types.StatusEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		require.True(t, ok, "subscriber closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.StatusEvent{}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(checkerFunc(compliant), nil, 2)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = New(checkerFunc(compliant), []string{"A.exe"}, 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = New(checkerFunc(compliant), []string{"A.exe"}, 10_000_000_000)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	targets := []string{"A.exe", "B.exe"}
	m, err := New(checkerFunc(compliant), targets, 2)
	require.NoError(t, err)
	targets[0] = "changed"
	assert.Equal(t, []string{"A.exe", "B.exe"}, m.Targets())
	assert.Equal(t, StateIdle, m.State())
}

func TestMonitor_EndToEnd(t *testing.T) {
	sys := procsys.NewFake(4)
	sys.Add(procsys.FakeProcess{PID: 77, Name: "B.exe", Priority: policy.PriorityNormal, Affinity: 0xf})

	m := fast(t, enforcer.New(sys), []string{"A.exe", "B.exe"}, 20)
	sub := m.Subscribe()
	require.NoError(t, m.Start())

	type got struct {
		name    string
		running bool
		status  string
	}
	var events []got
	for i := 0; i < 4; i++ {
		ev := next(t, sub)
		events = append(events, got{ev.Name, ev.Running, ev.Status})
		assert.Equal(t, types.SourceTick, ev.Source)
		assert.Equal(t, uint64(i/2+1), ev.Tick)
	}
	m.Stop()

	assert.Equal(t, []got{
		{"A.exe", false, "A.exe: not running"},
		{"B.exe", true, "B.exe: ✨ adjusting"},
		{"A.exe", false, "A.exe: not running"},
		{"B.exe", true, "B.exe: ✓ compliant"},
	}, events)

	p, _ := sys.Get(77)
	assert.Equal(t, policy.PriorityIdle, p.Priority)
	assert.Equal(t, uint64(0x8), p.Affinity)
	assert.Equal(t, 0, sys.OpenLeases())
}

func TestMonitor_ClassesOnEvents(t *testing.T) {
	outcomes := map[string]types.Outcome{
		"gone.exe":     types.NotRunning,
		"locked.exe":   types.Unreachable,
		"fine.exe":     types.Compliant,
		"adjusted.exe": types.Corrected,
	}
	c := checkerFunc(func(name string) types.CheckResult {
		o := outcomes[name]
		return types.CheckResult{Name: name, Outcome: o, Status: types.StatusText(name, o)}
	})

	m := fast(t, c, []string{"gone.exe", "locked.exe", "fine.exe", "adjusted.exe"}, 1000)
	sub := m.Subscribe()
	require.NoError(t, m.Start())

	want := []types.Class{types.ClassNotRunning, types.ClassFailure, types.ClassCompliant, types.ClassAdjusting}
	for _, class := range want {
		assert.Equal(t, class, next(t, sub).Class)
	}
}

func TestMonitor_StartTwice(t *testing.T) {
	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 1000)
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyRunning)
	assert.Equal(t, StateRunning, m.State())
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 1000)

	m.Stop()
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Start())
	m.Stop()
	m.Stop()
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Start(), "a stopped monitor can be restarted")
	m.Stop()
}

func TestMonitor_NoEventsAfterStop(t *testing.T) {
	var checks atomic.Int64
	c := checkerFunc(func(name string) types.CheckResult {
		checks.Add(1)
		return compliant(name)
	})

	m := fast(t, c, []string{"A.exe", "B.exe"}, 1)
	sub := m.Subscribe()
	require.NoError(t, m.Start())
	next(t, sub)
	next(t, sub)
	m.Stop()

	for len(sub.Events) > 0 {
		<-sub.Events
	}
	after := checks.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, checks.Load(), "no check may start after Stop returns")
	assert.Empty(t, sub.Events)
}

func TestMonitor_StopInterruptsSleep(t *testing.T) {
	m, err := New(checkerFunc(compliant), []string{"A.exe"}, 3600)
	require.NoError(t, err)
	sub := m.Subscribe()
	require.NoError(t, m.Start())
	next(t, sub)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}
}

func TestMonitor_StopJoinsInFlightCheck(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var bChecked atomic.Bool

	c := checkerFunc(func(name string) types.CheckResult {
		if name == "A.exe" {
			close(entered)
			<-release
		} else {
			bChecked.Store(true)
		}
		return compliant(name)
	})

	m := fast(t, c, []string{"A.exe", "B.exe"}, 1000)
	require.NoError(t, m.Start())
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a check was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateDraining, m.State())

	close(release)
	<-stopped
	assert.False(t, bChecked.Load(), "remaining targets are skipped once stop is requested")
	assert.Equal(t, StateIdle, m.State())
}

func TestMonitor_PanicIsContained(t *testing.T) {
	c := checkerFunc(func(name string) types.CheckResult {
		if name == "bad.exe" {
			panic("handle table corrupted")
		}
		return compliant(name)
	})

	m := fast(t, c, []string{"bad.exe", "good.exe"}, 5)
	sub := m.Subscribe()
	require.NoError(t, m.Start())

	bad := next(t, sub)
	assert.Equal(t, "bad.exe", bad.Name)
	assert.Equal(t, types.Unreachable, bad.Outcome)
	assert.Equal(t, types.ClassFailure, bad.Class)
	assert.Equal(t, "bad.exe: ✗ access denied", bad.Status)

	assert.Equal(t, "good.exe", next(t, sub).Name)
	assert.Equal(t, "bad.exe", next(t, sub).Name, "loop keeps running after a panic")
}

func TestMonitor_PanicFromOSLayer(t *testing.T) {
	sys := procsys.NewFake(2)
	sys.Add(procsys.FakeProcess{PID: 3, Name: "A.exe"})
	sys.OnOpen(func(int) { panic("driver fault") })

	m := fast(t, enforcer.New(sys), []string{"A.exe"}, 1000)
	res := m.Refresh()
	require.Len(t, res, 1)
	assert.Equal(t, types.Unreachable, res[0].Outcome)
}

func TestMonitor_SetPollInterval(t *testing.T) {
	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 2)

	require.NoError(t, m.SetPollInterval(5))
	assert.Equal(t, 5, m.PollInterval())

	assert.ErrorIs(t, m.SetPollInterval(0), ErrInvalidInterval)
	assert.ErrorIs(t, m.SetPollInterval(-1), ErrInvalidInterval)
	assert.ErrorIs(t, m.SetPollInterval(MaxPollInterval+1), ErrInvalidInterval)
	assert.ErrorIs(t, m.SetPollInterval(10_000_000_000), ErrInvalidInterval)
	assert.Equal(t, 5, m.PollInterval())

	require.NoError(t, m.SetPollInterval(MaxPollInterval))
	assert.Equal(t, MaxPollInterval, m.PollInterval())
}

func TestMonitor_LongestIntervalSleeps(t *testing.T) {
	var checks atomic.Int64
	m, err := New(checkerFunc(func(name string) types.CheckResult {
		checks.Add(1)
		return compliant(name)
	}), []string{"A.exe"}, MaxPollInterval)
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	require.NoError(t, m.Start())
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	if got := checks.Load(); got != 1 {
		t.Errorf("checks with a %ds interval = %d, want 1", MaxPollInterval, got)
	}
}

func TestMonitor_HookPanicsAreContained(t *testing.T) {
	var results atomic.Int64
	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 5,
		WithTickHook(func(uint64) { panic("metrics exploded") }),
		WithResultHook(func(types.StatusEvent, types.CheckResult) { panic("journal exploded") }),
		WithResultHook(func(types.StatusEvent, types.CheckResult) { results.Add(1) }),
	)
	sub := m.Subscribe()
	require.NoError(t, m.Start())

	for i := 0; i < 3; i++ {
		assert.Equal(t, "A.exe", next(t, sub).Name, "loop keeps running after hook panics")
	}
	assert.GreaterOrEqual(t, results.Load(), int64(3), "later hooks still run")

	res := m.Refresh()
	require.Len(t, res, 1)
	assert.Equal(t, types.Compliant, res[0].Outcome)
}

func TestMonitor_SetPollIntervalConcurrent(t *testing.T) {
	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 1)
	require.NoError(t, m.Start())

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = m.SetPollInterval(n)
			_ = m.PollInterval()
		}(i)
	}
	wg.Wait()
	assert.Positive(t, m.PollInterval())
}

func TestMonitor_Refresh(t *testing.T) {
	sys := procsys.NewFake(2)
	sys.Add(procsys.FakeProcess{PID: 5, Name: "B.exe", Priority: policy.PriorityNormal, Affinity: 0x3})

	m := fast(t, enforcer.New(sys), []string{"A.exe", "B.exe"}, 1000)
	sub := m.Subscribe("B.exe")

	results := m.Refresh()
	require.Len(t, results, 2)
	assert.Equal(t, types.NotRunning, results[0].Outcome)
	assert.Equal(t, types.Corrected, results[1].Outcome)

	ev := next(t, sub)
	assert.Equal(t, "B.exe", ev.Name)
	assert.Equal(t, types.SourceManual, ev.Source)
	assert.Zero(t, ev.Tick)
	assert.Equal(t, StateIdle, m.State(), "refresh does not start the loop")

	latest := m.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "A.exe", latest[0].Name)
	assert.Equal(t, types.Corrected, latest[1].Outcome)
}

func TestMonitor_Hooks(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	var ticks atomic.Uint64

	m := fast(t, checkerFunc(compliant), []string{"A.exe", "B.exe"}, 1000,
		WithResultHook(func(ev types.StatusEvent, res types.CheckResult) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Name+"/"+string(ev.Source))
		}),
		WithTickHook(func(n uint64) { ticks.Store(n) }),
	)
	sub := m.Subscribe()
	require.NoError(t, m.Start())
	next(t, sub)
	next(t, sub)
	m.Stop()
	m.Refresh()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A.exe/tick", "B.exe/tick", "A.exe/manual", "B.exe/manual"}, seen)
	assert.Equal(t, uint64(1), ticks.Load())
	assert.Equal(t, uint64(1), m.Ticks())
}

func TestMonitor_SharedBroadcaster(t *testing.T) {
	b := broadcaster.New()
	defer b.Close()

	m := fast(t, checkerFunc(compliant), []string{"A.exe"}, 1000, WithBroadcaster(b))
	assert.Same(t, b, m.Broadcaster())

	sub := b.Subscribe()
	m.Refresh()
	assert.Equal(t, "A.exe", next(t, sub).Name)

	m.Unsubscribe(sub.ID)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
}
