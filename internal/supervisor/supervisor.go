// Package supervisor owns the lifecycle of every profile's tunnel process.
//
// All state lives on a single goroutine. Public methods, process events and timer
// callbacks are posted to it as closures, so there is exactly one writer for the
// process table, the connection states and the reconnect attempts. Every spawned
// process is tagged with an instance; events from an instance that is no longer
// current are ignored.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/history"
	"github.com/loykin/tunnelctl/internal/metrics"
	"github.com/loykin/tunnelctl/internal/notify"
	"github.com/loykin/tunnelctl/internal/process"
	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/reconnect"
	"github.com/loykin/tunnelctl/internal/registry"
	"github.com/loykin/tunnelctl/internal/status"
)

// Timing defaults.
const (
	DefaultConfirmDelay = 2 * time.Second
	DefaultStagger      = time.Second
)

// ErrClosed is returned by operations issued after Close.
var ErrClosed = errors.New("supervisor closed")

// Options configures a Supervisor. Only Spawner is required.
type Options struct {
	Spawner  process.Spawner
	Clock    clock.Clock
	Notifier notify.Notifier
	History  history.Recorder
	Logger   *slog.Logger

	ConfirmDelay time.Duration
	Stagger      time.Duration
	PollInterval time.Duration
	Backoff      reconnect.Policy
}

// Supervisor connects, monitors and reconnects tunnel processes.
type Supervisor struct {
	reg      *registry.Registry
	spawner  process.Spawner
	clock    clock.Clock
	notifier notify.Notifier
	history  history.Recorder
	logger   *slog.Logger

	confirmDelay time.Duration
	stagger      time.Duration

	retry  *reconnect.Scheduler
	agg    *status.Aggregator
	poller *status.Poller

	ops      chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// owned by the loop goroutine
	entries map[string]*entry
	startup []clock.Timer
	started bool
	closed  bool
}

// instance identifies one spawned process.
type instance struct {
	h process.Handle
}

type entry struct {
	inst      *instance
	state     status.State
	reconnect bool
	confirm   clock.Timer
}

// New builds a Supervisor over reg. The coordinating goroutine starts immediately;
// Start begins auto-connect and polling.
func New(reg *registry.Registry, opts Options) *Supervisor {
	s := &Supervisor{
		reg:          reg,
		spawner:      opts.Spawner,
		clock:        opts.Clock,
		notifier:     opts.Notifier,
		history:      opts.History,
		logger:       opts.Logger,
		confirmDelay: opts.ConfirmDelay,
		stagger:      opts.Stagger,
		agg:          status.NewAggregator(),
		ops:          make(chan func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		entries:      make(map[string]*entry),
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.history == nil {
		s.history = history.Nop{}
	}
	if s.confirmDelay <= 0 {
		s.confirmDelay = DefaultConfirmDelay
	}
	if s.stagger <= 0 {
		s.stagger = DefaultStagger
	}
	policy := opts.Backoff
	if policy.Base <= 0 || policy.Max <= 0 {
		policy = reconnect.DefaultPolicy()
	}
	s.retry = reconnect.New(s.clock, policy)
	s.poller = status.NewPoller(s.clock, opts.PollInterval, s.poll)
	go s.loop()
	return s
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for it. It reports false when the
// supervisor has shut down and fn did not run.
func (s *Supervisor) exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case s.ops <- func() { defer close(finished); fn() }:
	case <-s.quit:
		return false
	}
	<-finished
	return true
}

// Start connects every enabled profile with a command, spacing spawns by the
// stagger interval, and starts the status poller. It is a no-op when already started.
func (s *Supervisor) Start() error {
	ok := s.exec(func() {
		if s.started {
			return
		}
		s.started = true
		n := 0
		for _, p := range s.reg.List() {
			if !p.Enabled || !p.HasCommand() {
				continue
			}
			id := p.ID
			t := s.clock.AfterFunc(time.Duration(n)*s.stagger, func() {
				s.exec(func() { s.autoConnect(id) })
			})
			s.startup = append(s.startup, t)
			n++
		}
		s.logger.Info("supervisor started", "profiles", len(s.reg.List()), "auto_connect", n)
		s.poller.Start()
		s.publish()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

func (s *Supervisor) autoConnect(id string) {
	p, ok := s.reg.Get(id)
	if !ok || !p.Enabled || s.closed {
		return
	}
	s.connect(p, false)
}

// Close disconnects every profile and stops the loop. Pending retries and
// startup connects are cancelled.
func (s *Supervisor) Close() error {
	s.poller.Stop()
	ok := s.exec(func() {
		if s.closed {
			return
		}
		s.closed = true
		for _, t := range s.startup {
			t.Stop()
		}
		s.startup = nil
		s.retry.CancelAll()
		for _, p := range s.reg.List() {
			s.disconnect(p.ID)
		}
		s.logger.Info("supervisor stopped")
	})
	if ok {
		s.quitOnce.Do(func() { close(s.quit) })
	}
	<-s.done
	s.agg.Close()
	return nil
}

// ListProfiles returns all profiles in insertion order.
func (s *Supervisor) ListProfiles() []profile.Profile {
	return s.reg.List()
}

// GetProfile returns the profile with id.
func (s *Supervisor) GetProfile(id string) (profile.Profile, bool) {
	return s.reg.Get(id)
}

// AddProfile creates a disabled profile from d.
func (s *Supervisor) AddProfile(d profile.Draft) (profile.Profile, error) {
	var p profile.Profile
	if !s.exec(func() {
		p = s.reg.Add(d)
		s.logger.Info("profile added", "profile", p.ID, "name", p.Name)
		s.publish()
	}) {
		return profile.Profile{}, ErrClosed
	}
	return p, nil
}

// UpdateProfile replaces the stored profile with the same id. Flipping Enabled on
// connects the profile; flipping it off cancels retries and disconnects.
func (s *Supervisor) UpdateProfile(p profile.Profile) (bool, error) {
	var updated bool
	if !s.exec(func() { updated = s.update(p) }) {
		return false, ErrClosed
	}
	return updated, nil
}

func (s *Supervisor) update(p profile.Profile) bool {
	old, err := s.reg.Update(p)
	if err != nil {
		return false
	}
	s.retry.Clamp(p.ID, p.MaxAttempts())
	switch {
	case !old.Enabled && p.Enabled:
		s.connect(p, false)
	case old.Enabled && !p.Enabled:
		s.retry.Cancel(p.ID)
		s.disconnect(p.ID)
	}
	s.logger.Info("profile updated", "profile", p.ID, "name", p.Name, "enabled", p.Enabled)
	s.publish()
	return true
}

// DeleteProfile disconnects and removes the profile with id.
func (s *Supervisor) DeleteProfile(id string) (bool, error) {
	var deleted bool
	if !s.exec(func() { deleted = s.remove(id) }) {
		return false, ErrClosed
	}
	return deleted, nil
}

func (s *Supervisor) remove(id string) bool {
	p, ok := s.reg.Get(id)
	if !ok {
		return false
	}
	s.disconnect(id)
	s.retry.Forget(id)
	if err := s.reg.Delete(id); err != nil {
		return false
	}
	metrics.ForgetProfile(id)
	s.logger.Info("profile deleted", "profile", id, "name", p.Name)
	s.publish()
	return true
}

// ToggleProfile disconnects a profile that has a process and connects one that
// does not. It reports false for an unknown id.
func (s *Supervisor) ToggleProfile(id string) (bool, error) {
	var ok bool
	if !s.exec(func() {
		p, found := s.reg.Get(id)
		if !found {
			return
		}
		ok = true
		if _, running := s.entries[id]; running {
			s.disconnect(id)
		} else {
			s.connect(p, false)
		}
		s.publish()
	}) {
		return false, ErrClosed
	}
	return ok, nil
}

// Connect spawns the profile's process. It reports false when the profile is
// unknown, has no command, already has a process, or failed to spawn.
func (s *Supervisor) Connect(id string) (bool, error) {
	var ok bool
	if !s.exec(func() {
		p, found := s.reg.Get(id)
		if !found {
			return
		}
		ok = s.connect(p, false)
		s.publish()
	}) {
		return false, ErrClosed
	}
	return ok, nil
}

// Disconnect terminates the profile's process and cancels any pending retry.
func (s *Supervisor) Disconnect(id string) (bool, error) {
	var ok bool
	if !s.exec(func() {
		if _, found := s.reg.Get(id); !found {
			return
		}
		ok = true
		s.disconnect(id)
		s.publish()
	}) {
		return false, ErrClosed
	}
	return ok, nil
}

// SyncResult counts the changes applied by Sync.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Sync converges the registry to profiles, as read from an external source.
// Profiles without an id are ignored. Enabled transitions follow UpdateProfile.
// The list must be current: mutations made after it was read are overwritten.
// Use SyncFrom to read and apply in one step.
func (s *Supervisor) Sync(profiles []profile.Profile) (SyncResult, error) {
	var res SyncResult
	if !s.exec(func() { res = s.sync(profiles) }) {
		return res, ErrClosed
	}
	s.logSync(res)
	return res, nil
}

// SyncFrom calls load on the supervisor loop and converges to its result, so no
// mutation can land between the read and the diff. A list equal to what the
// registry itself loaded or saved is skipped: it is this process's own write
// echoing back, possibly older than the in-memory state. Profiles without an id
// are assigned one.
func (s *Supervisor) SyncFrom(ctx context.Context, load func(context.Context) ([]profile.Profile, error)) (SyncResult, error) {
	var (
		res SyncResult
		err error
	)
	if !s.exec(func() {
		var ps []profile.Profile
		ps, err = load(ctx)
		if err != nil || s.reg.Persisted(ps) {
			return
		}
		ps = slices.Clone(ps)
		for i := range ps {
			if ps[i].ID == "" {
				ps[i].ID = s.reg.NewID()
			}
		}
		res = s.sync(ps)
	}) {
		return res, ErrClosed
	}
	if err != nil {
		return res, err
	}
	s.logSync(res)
	return res, nil
}

func (s *Supervisor) sync(profiles []profile.Profile) SyncResult {
	var res SyncResult
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		old, ok := s.reg.Get(p.ID)
		switch {
		case !ok:
			s.reg.Put(p)
			res.Added++
			if p.Enabled {
				s.connect(p, false)
			}
		case old != p:
			s.update(p)
			res.Updated++
		}
	}
	for _, p := range s.reg.List() {
		if _, ok := seen[p.ID]; !ok && s.remove(p.ID) {
			res.Removed++
		}
	}
	s.publish()
	return res
}

func (s *Supervisor) logSync(res SyncResult) {
	if res != (SyncResult{}) {
		s.logger.Info("profiles synced", "added", res.Added, "updated", res.Updated, "removed", res.Removed)
	}
}

// Status returns a freshly computed snapshot.
func (s *Supervisor) Status() status.Snapshot {
	var snap status.Snapshot
	if !s.exec(func() { snap = s.snapshot() }) {
		return s.agg.Last()
	}
	return snap
}

// Subscribe streams snapshots. The channel closes when cancel is called or the
// supervisor shuts down.
func (s *Supervisor) Subscribe() (<-chan status.Snapshot, func()) {
	return s.agg.Subscribe()
}

// State returns the connection state of id.
func (s *Supervisor) State(id string) status.State {
	st := status.Idle
	s.exec(func() {
		if e, ok := s.entries[id]; ok {
			st = e.state
		}
	})
	return st
}

// Attempts returns the consecutive failed reconnect attempts of id.
func (s *Supervisor) Attempts(id string) int {
	return s.retry.Attempts(id)
}

// ProcessStats samples resource usage of the profile's live process.
func (s *Supervisor) ProcessStats(id string) (process.Stats, bool) {
	var h process.Handle
	s.exec(func() {
		if e, ok := s.entries[id]; ok {
			h = e.inst.h
		}
	})
	if h == nil {
		return process.Stats{}, false
	}
	st, err := h.Stats()
	if err != nil {
		return process.Stats{PID: h.PID(), StartedAt: h.StartedAt()}, true
	}
	return st, true
}

func (s *Supervisor) snapshot() status.Snapshot {
	return status.Compute(s.reg.List(), func(id string) status.ProfileStatus {
		ps := status.ProfileStatus{State: status.Idle, Attempts: s.retry.Attempts(id)}
		if e, ok := s.entries[id]; ok {
			ps.State = e.state
			ps.PID = e.inst.h.PID()
			ps.Connected = e.inst.h.Alive()
		}
		return ps
	})
}

func (s *Supervisor) publish() {
	snap := s.snapshot()
	metrics.SetProfileCounts(snap.Connected, snap.Total)
	s.agg.Publish(snap)
}

// poll runs on the clock's goroutine.
func (s *Supervisor) poll() {
	handles := make(map[string]process.Handle)
	if !s.exec(func() {
		snap := s.snapshot()
		metrics.SetProfileCounts(snap.Connected, snap.Total)
		if s.agg.Reconcile(snap) {
			s.logger.Debug("status changed", "summary", snap.Summary())
		}
		for id, e := range s.entries {
			handles[id] = e.inst.h
		}
	}) {
		return
	}
	for id, h := range handles {
		if st, err := h.Stats(); err == nil {
			metrics.SetProcessResources(id, st.RSSBytes, st.CPUPercent)
		}
	}
}

func (s *Supervisor) notify(p profile.Profile, connected bool, v notify.Variant, msg string) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		ProfileID:   p.ID,
		ProfileName: p.Name,
		Connected:   connected,
		Variant:     v,
		Message:     msg,
		Timestamp:   s.clock.Now(),
	}
	if err := s.notifier.Notify(context.Background(), n); err != nil {
		s.logger.Warn("notification failed", "profile", p.ID, "variant", string(v), "error", err)
	}
}

func (s *Supervisor) record(e history.Event) {
	e.OccurredAt = s.clock.Now().UTC()
	s.history.Record(e)
}
