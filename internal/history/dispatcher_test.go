package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestDispatcherDeliversInOrderAndCloses(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	d := NewDispatcher(nil, a, b)
	d.Record(Event{Type: EventSpawned, ProfileID: "p"})
	d.Record(Event{Type: EventConnected, ProfileID: "p"})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	require.Len(t, a.events, 2)
	assert.Equal(t, EventSpawned, a.events[0].Type)
	assert.Equal(t, EventConnected, a.events[1].Type)
	assert.False(t, a.events[0].OccurredAt.IsZero())
	assert.Len(t, b.events, 2, "a failing sink still sees every event")
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	d.Record(Event{Type: EventExited})
	assert.Len(t, a.events, 2)
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Send(context.Context, Event) error {
	<-b.release
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(nil, s)
	for i := 0; i < defaultQueue+10; i++ {
		d.Record(Event{Type: EventExited})
	}
	assert.GreaterOrEqual(t, d.Dropped(), int64(9))
	close(s.release)
	require.NoError(t, d.Close())
}
