// Package broadcaster fans status events out to subscribers without ever
// blocking the publisher.
package broadcaster

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Buffer is the per-subscriber channel capacity. Events that do not fit
// are dropped for that subscriber.
const Buffer = 100

// Subscriber receives events on Events until it is unsubscribed or the
// broadcaster closes.
type Subscriber struct {
	ID     string
	Names  []string // empty means every target
	Events chan types.StatusEvent

	dropped atomic.Uint64
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) wants(name string) bool {
	if len(s.Names) == 0 {
		return true
	}
	for _, n := range s.Names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Broadcaster manages subscribers and distributes status events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber for events about names, or about every
// target when names is empty. It returns nil after Close.
func (b *Broadcaster) Subscribe(names ...string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Names:  append([]string(nil), names...),
		Events: make(chan types.StatusEvent, Buffer),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are
// ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish offers ev to every interested subscriber and returns how many
// accepted it.
func (b *Broadcaster) Publish(ev types.StatusEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subscribers {
		if !sub.wants(ev.Name) {
			continue
		}
		select {
		case sub.Events <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Close closes every subscriber channel. Later calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
