package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/profile"
)

func profiles() []profile.Profile {
	return []profile.Profile{
		{ID: "a", Name: "db", Enabled: true},
		{ID: "b", Name: "web", Enabled: true},
		{ID: "c", Name: "off", Enabled: false},
	}
}

func TestComputeCountsEnabledOnly(t *testing.T) {
	s := Compute(profiles(), func(id string) ProfileStatus {
		if id == "a" || id == "c" {
			return ProfileStatus{Connected: true, State: Connected}
		}
		return ProfileStatus{State: Idle}
	})
	assert.Equal(t, 1, s.Connected)
	assert.Equal(t, 2, s.Total)
	require.Len(t, s.Profiles, 2)
	assert.Equal(t, "db", s.Profiles[0].Name)
	_, ok := s.Lookup("c")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "No profiles configured", Snapshot{}.Summary())
	assert.Equal(t, "All Disconnected", Snapshot{Total: 2}.Summary())
	assert.Equal(t, "1/2 Connected", Snapshot{Connected: 1, Total: 2}.Summary())
}

func TestReconcileSignalsOnlyOnChange(t *testing.T) {
	a := NewAggregator()
	ch, cancel := a.Subscribe()
	defer cancel()

	assert.True(t, a.Reconcile(Snapshot{Connected: 0, Total: 1}))
	assert.False(t, a.Reconcile(Snapshot{Connected: 0, Total: 1}))
	assert.True(t, a.Reconcile(Snapshot{Connected: 1, Total: 1}))

	assert.Equal(t, 0, (<-ch).Connected)
	assert.Equal(t, 1, (<-ch).Connected)
	select {
	case s := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", s)
	default:
	}
}

func TestPublishAlwaysBroadcasts(t *testing.T) {
	a := NewAggregator()
	ch, cancel := a.Subscribe()
	a.Publish(Snapshot{Total: 1})
	a.Publish(Snapshot{Total: 1})
	assert.Len(t, ch, 2)
	cancel()
	cancel()
	_, open := <-ch
	for open {
		_, open = <-ch
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	a := NewAggregator()
	_, cancel := a.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuffer*3; i++ {
		a.Publish(Snapshot{Connected: i})
	}
	assert.Equal(t, subscriberBuffer*3-1, a.Last().Connected)
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	a := NewAggregator()
	early, _ := a.Subscribe()
	a.Close()

	_, open := <-early
	assert.False(t, open)

	late, cancel := a.Subscribe()
	select {
	case _, open := <-late:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription after close never closed")
	}
	cancel()
	a.Publish(Snapshot{Total: 1})
	a.Close()
}

func TestPollerTicksEveryInterval(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	ticks := 0
	p := NewPoller(clk, 5*time.Second, func() { ticks++ })
	p.Start()
	p.Start()

	clk.Advance(4 * time.Second)
	assert.Equal(t, 0, ticks)
	clk.Advance(time.Second)
	assert.Equal(t, 1, ticks)
	clk.Advance(10 * time.Second)
	assert.Equal(t, 3, ticks)

	p.Stop()
	clk.Advance(time.Minute)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, 0, clk.Pending())
}
