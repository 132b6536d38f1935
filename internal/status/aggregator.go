package status

import (
	"sync"
	"time"

	"github.com/loykin/tunnelctl/internal/clock"
)

// DefaultPollInterval is the reconcile period.
const DefaultPollInterval = 5 * time.Second

const subscriberBuffer = 8

// Aggregator remembers the last published snapshot and broadcasts to subscribers.
// Delivery is lossy: a subscriber that falls behind misses intermediate snapshots.
type Aggregator struct {
	mu     sync.Mutex
	last   Snapshot
	seeded bool
	nextID int
	subs   map[int]chan Snapshot
	closed bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{subs: make(map[int]chan Snapshot)}
}

// Publish records s and broadcasts it unconditionally.
func (a *Aggregator) Publish(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last, a.seeded = s, true
	a.broadcastLocked(s)
}

// Reconcile records s and broadcasts it only when the aggregate counts moved.
// It reports whether a change was signalled.
func (a *Aggregator) Reconcile(s Snapshot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := !a.seeded || !a.last.SameAggregate(s)
	a.last, a.seeded = s, true
	if changed {
		a.broadcastLocked(s)
	}
	return changed
}

// Last returns the most recently recorded snapshot.
func (a *Aggregator) Last() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Subscribe returns a channel of snapshots and a cancel func that closes it.
// After Close the channel is returned already closed.
func (a *Aggregator) Subscribe() (<-chan Snapshot, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		ch := make(chan Snapshot)
		close(ch)
		return ch, func() {}
	}
	id := a.nextID
	a.nextID++
	ch := make(chan Snapshot, subscriberBuffer)
	a.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			if c, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(c)
			}
			a.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, c := range a.subs {
		delete(a.subs, id)
		close(c)
	}
}

func (a *Aggregator) broadcastLocked(s Snapshot) {
	for _, c := range a.subs {
		select {
		case c <- s:
		default:
		}
	}
}

// Poller calls tick every interval on the given clock until stopped.
type Poller struct {
	clock    clock.Clock
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

func NewPoller(clk clock.Clock, interval time.Duration, tick func()) *Poller {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{clock: clk, interval: interval, tick: tick}
}

// Start arms the first tick. Calling Start twice has no effect.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil || p.stopped {
		return
	}
	p.timer = p.clock.AfterFunc(p.interval, p.fire)
}

func (p *Poller) fire() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.tick()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.timer = p.clock.AfterFunc(p.interval, p.fire)
	}
}

// Stop cancels future ticks.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
