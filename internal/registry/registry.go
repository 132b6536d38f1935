// Package registry holds the ordered, in-memory set of profiles and persists it
// best-effort after every mutation. Saves run on a background writer so a slow
// store never stalls the caller.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/store"
)

// ErrNotFound is returned for an unknown profile id.
var ErrNotFound = errors.New("profile not found")

const saveTimeout = 5 * time.Second

// Registry is safe for concurrent use. A nil store keeps profiles in memory only.
type Registry struct {
	mu       sync.RWMutex
	ids      []string
	profiles map[string]profile.Profile

	store  store.Store
	w      *writer
	logger *slog.Logger
	newID  func() string
}

// Option customizes a Registry.
type Option func(*Registry)

// WithIDGenerator replaces uuid-based id assignment.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

func New(st store.Store, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		profiles: make(map[string]profile.Profile),
		store:    st,
		logger:   logger,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	if st != nil {
		r.w = newWriter(st, logger)
	}
	return r
}

// NewID returns a fresh profile id from the configured generator.
func (r *Registry) NewID() string { return r.newID() }

// Load replaces the in-memory set with the store's content. Profiles without an id
// are assigned one; duplicate ids keep their first occurrence.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ps, err := r.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	r.w.observe(ps)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = r.ids[:0]
	r.profiles = make(map[string]profile.Profile, len(ps))
	for _, p := range ps {
		if p.ID == "" {
			p.ID = r.newID()
		}
		if _, dup := r.profiles[p.ID]; dup {
			r.logger.Warn("duplicate profile id ignored", "profile", p.ID, "name", p.Name)
			continue
		}
		r.ids = append(r.ids, p.ID)
		r.profiles[p.ID] = p
	}
	return nil
}

// List returns a copy of every profile in insertion order.
func (r *Registry) List() []profile.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []profile.Profile {
	out := make([]profile.Profile, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.profiles[id])
	}
	return out
}

func (r *Registry) Get(id string) (profile.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// Add assigns an id, applies defaults, and appends the profile.
func (r *Registry) Add(d profile.Draft) profile.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := profile.New(r.newID(), d)
	r.ids = append(r.ids, p.ID)
	r.profiles[p.ID] = p
	r.saveLocked()
	return p
}

// Update overwrites the stored record with the same id and returns the previous one.
func (r *Registry) Update(p profile.Profile) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.profiles[p.ID]
	if !ok {
		return profile.Profile{}, ErrNotFound
	}
	r.profiles[p.ID] = p
	r.saveLocked()
	return old, nil
}

// Put inserts or overwrites p keeping its id. Used when syncing from an external source.
func (r *Registry) Put(p profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; !ok {
		r.ids = append(r.ids, p.ID)
	}
	r.profiles[p.ID] = p
	r.saveLocked()
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(r.profiles, id)
	for i, x := range r.ids {
		if x == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}
	r.saveLocked()
	return nil
}

// saveLocked queues the current list for the writer. It never fails the caller;
// the in-memory state is authoritative. Queuing under r.mu keeps snapshots in
// mutation order.
func (r *Registry) saveLocked() {
	if r.w == nil {
		return
	}
	r.w.enqueue(r.listLocked())
}

// Persisted reports whether ps equals what this registry last loaded from the
// store or has queued, is writing, or has written to it.
func (r *Registry) Persisted(ps []profile.Profile) bool {
	if r.w == nil {
		return false
	}
	return r.w.matches(ps)
}

// Flush blocks until every queued snapshot has been handed to the store.
func (r *Registry) Flush() {
	if r.w != nil {
		r.w.flush()
	}
}

// Close flushes pending saves and stops the writer. Later mutations are saved
// synchronously.
func (r *Registry) Close() error {
	if r.w != nil {
		r.w.close()
	}
	return nil
}
