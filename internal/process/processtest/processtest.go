// Package processtest provides an in-memory process.Spawner for deterministic tests.
package processtest

import (
	"sync"
	"time"

	"github.com/loykin/tunnelctl/internal/process"
)

// Spawner records spawn requests and hands out controllable handles.
type Spawner struct {
	mu       sync.Mutex
	nextPID  int
	requests []process.Request
	handles  []*Handle
	failNext error

	// Now stamps StartedAt on new handles; nil means time.Now.
	Now func() time.Time
}

// New returns an empty fake spawner.
func New() *Spawner { return &Spawner{nextPID: 1000} }

// FailNext makes the next Spawn call return a SpawnError wrapping err.
func (s *Spawner) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Spawner) Spawn(req process.Request, onEvent func(process.Event)) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := s.failNext; err != nil {
		s.failNext = nil
		return nil, &process.SpawnError{Program: req.Program, Err: err}
	}
	s.nextPID++
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	h := &Handle{Request: req, pid: s.nextPID, started: now(), onEvent: onEvent, alive: true}
	s.handles = append(s.handles, h)
	return h, nil
}

// Requests returns every request seen so far, including failed ones.
func (s *Spawner) Requests() []process.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]process.Request(nil), s.requests...)
}

// Handles returns every handle created so far.
func (s *Spawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Last returns the most recent handle, or nil.
func (s *Spawner) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// Live returns handles that have neither exited nor been terminated for profileID.
func (s *Spawner) Live(profileID string) []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Handle
	for _, h := range s.handles {
		if h.Request.ProfileID == profileID && h.Alive() {
			out = append(out, h)
		}
	}
	return out
}

// Handle is a fake process. Events are delivered synchronously by Exit and Fail.
type Handle struct {
	Request process.Request

	pid     int
	started time.Time
	onEvent func(process.Event)

	mu         sync.Mutex
	alive      bool
	exited     bool
	terminated int
}

func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.started }

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Terminate marks the handle dead. No exit event is emitted; call Exit to simulate one.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.alive {
		return nil
	}
	h.alive = false
	h.terminated++
	return nil
}

// Terminated reports how many times Terminate actually signalled the process.
func (h *Handle) Terminated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

func (h *Handle) Stats() (process.Stats, error) {
	return process.Stats{PID: h.pid, StartedAt: h.started}, nil
}

// Exit simulates process termination with the given code and signal name.
func (h *Handle) Exit(code int, signal string) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.alive = false
	h.mu.Unlock()
	h.onEvent(process.Event{Kind: process.Exited, ExitCode: code, Signal: signal})
}

// Fail simulates a runtime error followed by exit code -1.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.onEvent(process.Event{Kind: process.Errored, Err: err})
	h.Exit(-1, "")
}
