package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueue       = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks from a background goroutine. When the queue
// is full new events are dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration

	queue   chan Event
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		timeout: defaultSendTimeout,
		queue:   make(chan Event, defaultQueue),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Record enqueues e. OccurredAt defaults to now.
func (d *Dispatcher) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.logger.Warn("history sink failed", "type", e.Type, "profile", e.ProfileID, "error", err)
			}
			cancel()
		}
	}
}

// Close drains queued events, then closes sinks that implement io.Closer.
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		<-d.done
		for _, s := range d.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					d.logger.Warn("close history sink", "error", err)
				}
			}
		}
	})
	return nil
}
