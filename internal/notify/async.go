package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAsyncQueue   = 64
	defaultAsyncTimeout = 10 * time.Second
)

// Async moves delivery to a background goroutine. When the queue is full the
// notification is dropped and counted.
type Async struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan Notification
	dropped atomic.Int64
	done    chan struct{}
}

// NewAsync wraps next. queue <= 0 selects the default depth.
func NewAsync(next Notifier, queue int, logger *slog.Logger) *Async {
	if queue <= 0 {
		queue = defaultAsyncQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:    next,
		logger:  logger,
		timeout: defaultAsyncTimeout,
		queue:   make(chan Notification, queue),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Warn("notification delivery failed", "profile", n.ProfileID, "variant", string(n.Variant), "error", err)
		}
		cancel()
	}
}

// Notify enqueues n and never blocks.
func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many notifications were discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting notifications and waits for the queue to drain.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
