// Package reconnect tracks per-profile retry attempts and schedules backoff timers.
package reconnect

import (
	"sync"
	"time"

	"github.com/loykin/tunnelctl/internal/clock"
)

// Default backoff bounds.
const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// Policy is an exponential backoff curve: Base*2^attempt capped at Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy returns the 1s..30s curve.
func DefaultPolicy() Policy { return Policy{Base: DefaultBase, Max: DefaultMax} }

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base, ceil := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if ceil <= 0 {
		ceil = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= ceil {
			return ceil
		}
		d *= 2
	}
	if d > ceil {
		return ceil
	}
	return d
}

// Decision is the outcome of a Schedule call.
type Decision struct {
	Scheduled bool          // false when the ceiling was reached
	Attempt   int           // 1-based number of the retry that was scheduled
	Max       int           // ceiling in effect
	Delay     time.Duration // wait before the retry fires
}

// Scheduler owns the attempts counter for every profile id. It is safe for concurrent
// use; the supervisor calls it from its loop while timers fire on the clock's goroutine.
type Scheduler struct {
	clock  clock.Clock
	policy Policy

	mu       sync.Mutex
	seq      uint64
	attempts map[string]int
	pending  map[string]pendingRetry
}

type pendingRetry struct {
	seq   uint64
	timer clock.Timer
}

// New creates a Scheduler. A nil clock means the wall clock.
func New(clk clock.Clock, policy Policy) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		clock:    clk,
		policy:   policy,
		attempts: make(map[string]int),
		pending:  make(map[string]pendingRetry),
	}
}

// Policy returns the backoff policy in effect.
func (s *Scheduler) Policy() Policy { return s.policy }

// Schedule arms a one-shot retry for id unless max attempts were already used.
// fire runs on the clock's goroutine; it must re-check whether a retry still makes sense.
func (s *Scheduler) Schedule(id string, max int, fire func()) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[id]
	if a >= max {
		return Decision{Scheduled: false, Attempt: a, Max: max}
	}
	s.attempts[id] = a + 1
	delay := s.policy.Delay(a)

	if old, ok := s.pending[id]; ok {
		old.timer.Stop()
	}
	s.seq++
	seq := s.seq
	t := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.pending[id]
		live := ok && cur.seq == seq
		if live {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if live {
			fire()
		}
	})
	s.pending[id] = pendingRetry{seq: seq, timer: t}
	return Decision{Scheduled: true, Attempt: a + 1, Max: max, Delay: delay}
}

// Attempts returns the current attempt count for id.
func (s *Scheduler) Attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

// Reset sets the attempt count for id back to zero.
func (s *Scheduler) Reset(id string) {
	s.mu.Lock()
	s.attempts[id] = 0
	s.mu.Unlock()
}

// Clamp lowers the attempt count to max when the ceiling shrank.
func (s *Scheduler) Clamp(id string, max int) {
	s.mu.Lock()
	if s.attempts[id] > max {
		s.attempts[id] = max
	}
	s.mu.Unlock()
}

// Cancel stops a pending retry for id. It reports whether a timer was stopped.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	return true
}

// Pending reports whether a retry is armed for id.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Forget cancels any pending retry and drops all state for id.
func (s *Scheduler) Forget(id string) {
	s.Cancel(id)
	s.mu.Lock()
	delete(s.attempts, id)
	s.mu.Unlock()
}

// CancelAll stops every pending retry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	timers := s.pending
	s.pending = make(map[string]pendingRetry)
	s.mu.Unlock()
	for _, p := range timers {
		p.timer.Stop()
	}
}
