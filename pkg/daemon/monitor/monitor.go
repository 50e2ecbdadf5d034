// Package monitor runs the enforcement loop: every poll interval it checks
// each target in order, classifies the result and publishes a status event.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/demote/pkg/daemon/broadcaster"
	"github.com/jamesainslie/demote/pkg/demote/logging"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var log = logging.Get("monitor")

var (
	// ErrInvalidInterval is returned for a poll interval outside
	// 1..MaxPollInterval seconds.
	ErrInvalidInterval = errors.New("poll interval must be a positive number of seconds")

	// ErrAlreadyRunning is returned by Start while the loop is running.
	ErrAlreadyRunning = errors.New("monitor already running")

	// ErrNoTargets is returned by New for an empty target list.
	ErrNoTargets = errors.New("no targets to monitor")
)

// Checker checks one target by name. enforcer.Enforcer implements it.
type Checker interface {
	CheckAndFix(name string) types.CheckResult
}

// MaxPollInterval is the longest poll interval in seconds. Longer
// intervals would overflow the sleep duration.
const MaxPollInterval = math.MaxInt32

func validInterval(seconds int) error {
	if seconds <= 0 || seconds > MaxPollInterval {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, seconds)
	}
	return nil
}

// State is the lifecycle state of the loop.
type State int32

const (
	StateIdle State = iota
	StateRunning

	// StateDraining lasts from a stop request until the loop exits. The
	// check in progress completes; the rest of the tick's targets are
	// skipped, so no handle is acquired after Stop is called.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// ResultHook observes every check, from ticks and manual refreshes alike.
// Hooks run synchronously on the checking goroutine and must not block.
type ResultHook func(ev types.StatusEvent, res types.CheckResult)

// TickHook observes the start of every tick.
type TickHook func(tick uint64)

// Option configures a Monitor.
type Option func(*Monitor)

// WithBroadcaster publishes events on b instead of a private broadcaster.
func WithBroadcaster(b *broadcaster.Broadcaster) Option {
	return func(m *Monitor) { m.events = b }
}

// WithResultHook adds a hook called for every check result.
func WithResultHook(h ResultHook) Option {
	return func(m *Monitor) { m.resultHooks = append(m.resultHooks, h) }
}

// WithTickHook adds a hook called at the start of every tick.
func WithTickHook(h TickHook) Option {
	return func(m *Monitor) { m.tickHooks = append(m.tickHooks, h) }
}

// Monitor is the background enforcement loop.
type Monitor struct {
	checker Checker
	targets []string
	events  *broadcaster.Broadcaster
	unit    time.Duration

	resultHooks []ResultHook
	tickHooks   []TickHook

	// mu guards interval only.
	mu       sync.Mutex
	interval int

	// runMu serializes Start and Stop.
	runMu sync.Mutex
	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	ticks atomic.Uint64

	latestMu sync.RWMutex
	latest   map[string]types.CheckResult
}

// New returns an idle monitor over targets. The target slice is copied.
func New(checker Checker, targets []string, interval int, opts ...Option) (*Monitor, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if err := validInterval(interval); err != nil {
		return nil, err
	}

	m := &Monitor{
		checker:  checker,
		targets:  append([]string(nil), targets...),
		unit:     time.Second,
		interval: interval,
		latest:   make(map[string]types.CheckResult, len(targets)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = broadcaster.New()
	}
	return m, nil
}

// Targets returns a copy of the monitored names in check order.
func (m *Monitor) Targets() []string {
	return append([]string(nil), m.targets...)
}

// State returns the current lifecycle state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Ticks returns the number of ticks started so far.
func (m *Monitor) Ticks() uint64 { return m.ticks.Load() }

// Broadcaster returns the event broadcaster.
func (m *Monitor) Broadcaster() *broadcaster.Broadcaster { return m.events }

// PollInterval returns the interval in seconds.
func (m *Monitor) PollInterval() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetPollInterval changes the interval used for the next sleep. Values
// outside 1..MaxPollInterval are rejected and the previous interval is kept.
func (m *Monitor) SetPollInterval(seconds int) error {
	if err := validInterval(seconds); err != nil {
		return err
	}
	m.mu.Lock()
	prev := m.interval
	m.interval = seconds
	m.mu.Unlock()

	if prev != seconds {
		log.Info("poll interval changed", "from", prev, "to", seconds)
	}
	return nil
}

// Subscribe registers an event subscriber, filtered to names when given.
func (m *Monitor) Subscribe(names ...string) *broadcaster.Subscriber {
	return m.events.Subscribe(names...)
}

// Unsubscribe removes a subscriber.
func (m *Monitor) Unsubscribe(id string) {
	m.events.Unsubscribe(id)
}

// Start launches the loop goroutine.
func (m *Monitor) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.State() != StateIdle {
		return ErrAlreadyRunning
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.state.Store(int32(StateRunning))

	go m.run(m.stop, m.done)

	log.Info("monitor started", "targets", len(m.targets), "interval", m.PollInterval())
	return nil
}

// Stop interrupts the loop and waits for it to exit. Once Stop returns no
// further check starts and no further tick event is published. Calling it
// when the loop is not running is a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.State() != StateRunning {
		return
	}

	m.state.Store(int32(StateDraining))
	close(m.stop)
	<-m.done
	m.state.Store(int32(StateIdle))

	log.Info("monitor stopped", "ticks", m.Ticks())
}

// Refresh checks every target once on the calling goroutine and publishes
// the results as manual events. It may overlap a running tick.
func (m *Monitor) Refresh() []types.CheckResult {
	results := make([]types.CheckResult, 0, len(m.targets))
	for _, name := range m.targets {
		res := m.check(name)
		m.record(res, types.SourceManual, 0)
		results = append(results, res)
	}
	return results
}

// Latest returns the most recent result per target in target order.
// Targets not checked yet are omitted.
func (m *Monitor) Latest() []types.CheckResult {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()

	out := make([]types.CheckResult, 0, len(m.targets))
	for _, name := range m.targets {
		if res, ok := m.latest[name]; ok {
			out = append(out, res)
		}
	}
	return out
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		if !m.tick(stop) {
			return
		}

		wait := time.Duration(m.PollInterval()) * m.unit
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick checks every target once. It returns false when stop was requested
// before all targets were checked.
func (m *Monitor) tick(stop <-chan struct{}) bool {
	n := m.ticks.Add(1)
	for _, h := range m.tickHooks {
		m.guard("tick hook", "", func() { h(n) })
	}

	for _, name := range m.targets {
		select {
		case <-stop:
			return false
		default:
		}
		m.record(m.check(name), types.SourceTick, n)
	}
	return true
}

// check runs the checker, turning a panic from the OS layer into an
// Unreachable result so one bad target cannot end the loop.
func (m *Monitor) check(name string) (res types.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("check panicked", "target", name, "panic", r)
			res = types.CheckResult{
				Name:    name,
				Outcome: types.Unreachable,
				Status:  types.StatusText(name, types.Unreachable),
				Checked: time.Now(),
			}
		}
	}()
	return m.checker.CheckAndFix(name)
}

func (m *Monitor) record(res types.CheckResult, src types.Source, tick uint64) {
	m.latestMu.Lock()
	prev, seen := m.latest[res.Name]
	m.latest[res.Name] = res
	m.latestMu.Unlock()

	if !seen || prev.Outcome != res.Outcome {
		log.Info("status changed", "target", res.Name, "outcome", res.Outcome, "pid", res.PID, "source", src)
	} else {
		log.Debug("checked", "target", res.Name, "outcome", res.Outcome, "source", src)
	}

	ev := types.EventFromResult(res, src, tick)
	for _, h := range m.resultHooks {
		m.guard("result hook", res.Name, func() { h(ev, res) })
	}
	m.events.Publish(ev)
}

// guard runs a hook, logging a panic instead of letting it end the loop.
func (m *Monitor) guard(what, target string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(what+" panicked", "target", target, "panic", r)
		}
	}()
	fn()
}
