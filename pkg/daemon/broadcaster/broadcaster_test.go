package broadcaster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

func event(name string, o types.Outcome) types.StatusEvent {
	return types.EventFromResult(types.CheckResult{
		Name:    name,
		Outcome: o,
		Status:  types.StatusText(name, o),
	}, types.SourceTick, 1)
}

func TestBroadcaster_Subscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("A.exe")
	require.NotNil(t, sub)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, []string{"A.exe"}, sub.Names)
	assert.Equal(t, 1, b.SubscriberCount())

	other := b.Subscribe()
	assert.NotEqual(t, sub.ID, other.ID)
}

func TestBroadcaster_PublishAll(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.Publish(event("B.exe", types.Corrected)))

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "B.exe", ev.Name)
		assert.Equal(t, types.ClassAdjusting, ev.Class)
		assert.True(t, ev.Running)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event not received")
	}
}

func TestBroadcaster_NameFilter(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("sguard64.exe")
	assert.Equal(t, 0, b.Publish(event("Other.exe", types.Compliant)))
	assert.Equal(t, 1, b.Publish(event("SGuard64.exe", types.Compliant)))

	ev := <-sub.Events
	assert.Equal(t, "SGuard64.exe", ev.Name)

	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroadcaster_FullBufferDrops(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	for i := 0; i < Buffer+5; i++ {
		b.Publish(event("A.exe", types.NotRunning))
	}
	assert.Len(t, sub.Events, Buffer)
	assert.Equal(t, uint64(5), sub.Dropped())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID)

	_, ok := <-sub.Events
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_Close(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Nil(t, b.Subscribe())
	assert.Equal(t, 0, b.Publish(event("A.exe", types.Compliant)))
}
