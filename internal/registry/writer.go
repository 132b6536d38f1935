package registry

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/store"
)

// writer persists registry snapshots from a background goroutine. While a save is
// running only the newest snapshot is kept, so bursts collapse into one write.
type writer struct {
	store   store.Store
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	idle     *sync.Cond
	pending  []profile.Profile
	queued   bool
	inflight []profile.Profile
	busy     bool
	written  []profile.Profile // last loaded or successfully saved
	known    bool
	closed   bool

	wake chan struct{}
	once sync.Once
	done chan struct{}
}

func newWriter(st store.Store, logger *slog.Logger) *writer {
	w := &writer{
		store:   st,
		logger:  logger,
		timeout: saveTimeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// enqueue replaces any snapshot still waiting to be written. After close it
// writes synchronously.
func (w *writer) enqueue(ps []profile.Profile) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if w.write(ps) == nil {
			w.observe(ps)
		}
		return
	}
	w.pending, w.queued = ps, true
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

func (w *writer) run() {
	defer close(w.done)
	for range w.wake {
		w.drain()
	}
	w.drain()
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		if !w.queued {
			w.mu.Unlock()
			return
		}
		ps := w.pending
		w.pending, w.queued = nil, false
		w.inflight, w.busy = ps, true
		w.mu.Unlock()

		err := w.write(ps)

		w.mu.Lock()
		w.inflight, w.busy = nil, false
		if err == nil {
			w.written, w.known = ps, true
		}
		w.idle.Broadcast()
		w.mu.Unlock()
	}
}

func (w *writer) write(ps []profile.Profile) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.store.SaveProfiles(ctx, ps)
	if err != nil {
		w.logger.Warn("persist profiles failed", "error", err)
	}
	return err
}

// observe records ps as the store's current content.
func (w *writer) observe(ps []profile.Profile) {
	w.mu.Lock()
	w.written, w.known = ps, true
	w.mu.Unlock()
}

// matches reports whether ps is a snapshot this writer has queued, is writing,
// or last saw in the store.
func (w *writer) matches(ps []profile.Profile) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return (w.queued && slices.Equal(w.pending, ps)) ||
		(w.busy && slices.Equal(w.inflight, ps)) ||
		(w.known && slices.Equal(w.written, ps))
}

func (w *writer) flush() {
	w.mu.Lock()
	for w.queued || w.busy {
		w.idle.Wait()
	}
	w.mu.Unlock()
}

func (w *writer) close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.wake)
		w.mu.Unlock()
		<-w.done
	})
}
