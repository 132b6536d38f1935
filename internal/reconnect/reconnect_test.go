package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loykin/tunnelctl/internal/clock"
)

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for a, w := range want {
		assert.Equal(t, w, p.Delay(a), "attempt %d", a)
	}
	assert.Equal(t, 30*time.Second, p.Delay(1000))
}

func TestPolicyDelayProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := DefaultPolicy()
		a := rapid.IntRange(0, 10_000).Draw(t, "attempt")
		d := p.Delay(a)
		if d < DefaultBase || d > DefaultMax {
			t.Fatalf("delay %v out of range for attempt %d", d, a)
		}
		if next := p.Delay(a + 1); next < d {
			t.Fatalf("delay not monotonic: %v then %v", d, next)
		}
	})
}

func TestScheduleStopsAtCeiling(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := New(clk, DefaultPolicy())
	fired := 0

	for i := 1; i <= 3; i++ {
		d := s.Schedule("a", 3, func() { fired++ })
		require.True(t, d.Scheduled)
		assert.Equal(t, i, d.Attempt)
		clk.Advance(d.Delay)
	}
	assert.Equal(t, 3, fired)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.Scheduled())

	d := s.Schedule("a", 3, func() { fired++ })
	assert.False(t, d.Scheduled)
	assert.Equal(t, 3, s.Attempts("a"))
	assert.Equal(t, 0, clk.Pending())
}

func TestScheduleReplacesPendingTimer(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := New(clk, DefaultPolicy())
	var got []int
	s.Schedule("a", 5, func() { got = append(got, 1) })
	s.Schedule("a", 5, func() { got = append(got, 2) })
	assert.Equal(t, 1, clk.Pending())
	clk.Advance(time.Minute)
	assert.Equal(t, []int{2}, got)
	assert.False(t, s.Pending("a"))
}

func TestCancelAndForget(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := New(clk, DefaultPolicy())
	fired := false
	s.Schedule("a", 5, func() { fired = true })
	assert.True(t, s.Pending("a"))
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	clk.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 1, s.Attempts("a"))

	s.Forget("a")
	assert.Equal(t, 0, s.Attempts("a"))
}

func TestResetAndClamp(t *testing.T) {
	s := New(clock.NewFake(time.Unix(0, 0)), DefaultPolicy())
	for i := 0; i < 4; i++ {
		s.Schedule("a", 5, func() {})
	}
	s.Clamp("a", 2)
	assert.Equal(t, 2, s.Attempts("a"))
	s.Clamp("a", 10)
	assert.Equal(t, 2, s.Attempts("a"))
	s.Reset("a")
	assert.Equal(t, 0, s.Attempts("a"))
}

func TestAttemptsNeverExceedCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 10).Draw(t, "max")
		calls := rapid.IntRange(0, 30).Draw(t, "calls")
		clk := clock.NewFake(time.Unix(0, 0))
		s := New(clk, DefaultPolicy())
		scheduled := 0
		for i := 0; i < calls; i++ {
			if s.Schedule("p", max, func() {}).Scheduled {
				scheduled++
			}
			clk.Advance(time.Minute)
		}
		if s.Attempts("p") > max || scheduled > max {
			t.Fatalf("attempts=%d scheduled=%d max=%d", s.Attempts("p"), scheduled, max)
		}
	})
}
