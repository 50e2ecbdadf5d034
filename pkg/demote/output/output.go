// Package output renders demote status, check results, watch events and
// journal entries in the formats the CLI offers (plain, json, yaml, table,
// template).
//
// Formatters are looked up by name in a registry so the CLI can validate the
// --format flag against what is actually available:
//
//	formatter, err := output.Get("table")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Daemon describes the running daemon for status output.
type Daemon struct {
	PID         int       `json:"pid" yaml:"pid"`
	Version     string    `json:"version" yaml:"version"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	State       string    `json:"state" yaml:"state"`
	Interval    int       `json:"interval" yaml:"interval"`
	Priority    string    `json:"priority" yaml:"priority"`
	Targets     []string  `json:"targets" yaml:"targets"`
	Ticks       uint64    `json:"ticks" yaml:"ticks"`
	Subscribers int       `json:"subscribers" yaml:"subscribers"`
	Elevated    bool      `json:"elevated" yaml:"elevated"`
	History     bool      `json:"history" yaml:"history"`
}

// Result is everything a single command wants to print. Sections left empty
// are omitted by every formatter.
type Result struct {
	// Daemon is set when the data came from a running daemon.
	Daemon *Daemon `json:"daemon,omitempty" yaml:"daemon,omitempty"`

	// Results holds the latest check result per target.
	Results []types.CheckResult `json:"results,omitempty" yaml:"results,omitempty"`

	// History holds journal entries, newest first.
	History []types.HistoryRecord `json:"history,omitempty" yaml:"history,omitempty"`
}

// Formatter renders results and single status events.
type Formatter interface {
	// Format writes r to the buffer.
	Format(w *bytes.Buffer, r *Result) error

	// FormatEvent writes one status event. Streaming commands call it once
	// per event, so the output must be self-contained.
	FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the sorted names of all registered formatters.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// Mask renders an affinity mask the way the table and plain formats show it.
func Mask(m uint64) string {
	return fmt.Sprintf("%#x", m)
}
