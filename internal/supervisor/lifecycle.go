package supervisor

import (
	"github.com/loykin/tunnelctl/internal/command"
	"github.com/loykin/tunnelctl/internal/history"
	"github.com/loykin/tunnelctl/internal/metrics"
	"github.com/loykin/tunnelctl/internal/notify"
	"github.com/loykin/tunnelctl/internal/process"
	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/status"
)

// forwardOnlyHint is shown when the remote side ended a session that was running a
// remote command instead of only forwarding.
const forwardOnlyHint = "Add -N flag to your SSH command"

// connect spawns p's process. reconnecting marks a backoff retry, which keeps the
// attempt counter; any other connect starts counting from zero.
func (s *Supervisor) connect(p profile.Profile, reconnecting bool) bool {
	if s.closed {
		return false
	}
	if _, running := s.entries[p.ID]; running {
		s.logger.Debug("connect ignored, process already running", "profile", p.ID)
		return false
	}
	if !p.HasCommand() {
		s.logger.Warn("connect ignored, profile has no command", "profile", p.ID, "name", p.Name)
		return false
	}
	if !reconnecting {
		s.retry.Cancel(p.ID)
		s.retry.Reset(p.ID)
	}

	program, args := command.Split(command.Build(p))
	inst := &instance{}
	id := p.ID
	h, err := s.spawner.Spawn(process.Request{
		ProfileID: id,
		Name:      p.Name,
		Program:   program,
		Args:      args,
	}, func(ev process.Event) {
		s.exec(func() { s.onEvent(id, inst, ev) })
	})
	if err != nil {
		s.spawnFailed(p, nil, err)
		return false
	}
	inst.h = h

	e := &entry{inst: inst, state: status.Idle, reconnect: reconnecting}
	s.entries[id] = e
	s.setState(id, e, status.Connecting)
	e.confirm = s.clock.AfterFunc(s.confirmDelay, func() {
		s.exec(func() { s.confirm(id, inst) })
	})

	metrics.IncSpawn(id, reconnecting)
	s.record(history.Event{
		Type:      history.EventSpawned,
		ProfileID: id,
		Name:      p.Name,
		PID:       h.PID(),
		Attempt:   s.retry.Attempts(id),
	})
	s.logger.Info("connecting", "profile", id, "name", p.Name, "pid", h.PID(), "reconnect", reconnecting)
	return true
}

// confirm promotes a process that survived the confirmation window to connected.
func (s *Supervisor) confirm(id string, inst *instance) {
	e, ok := s.entries[id]
	if !ok || e.inst != inst {
		return
	}
	e.confirm = nil
	if !inst.h.Alive() {
		return
	}
	p, _ := s.reg.Get(id)
	s.setState(id, e, status.Connected)
	v := notify.Connected
	if e.reconnect {
		v = notify.Reconnected
	}
	s.notify(p, true, v, "")
	s.retry.Reset(id)
	metrics.IncConfirmed(id)
	s.record(history.Event{Type: history.EventConnected, ProfileID: id, Name: p.Name, PID: inst.h.PID()})
	s.logger.Info("connected", "profile", id, "name", p.Name, "pid", inst.h.PID(), "reconnect", e.reconnect)
	s.publish()
}

// disconnect terminates id's process, if any, and always cancels a pending retry.
// It never schedules a retry.
func (s *Supervisor) disconnect(id string) {
	s.retry.Cancel(id)
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	if e.confirm != nil {
		e.confirm.Stop()
	}
	p, _ := s.reg.Get(id)
	if err := e.inst.h.Terminate(); err != nil {
		s.logger.Warn("terminate failed", "profile", id, "pid", e.inst.h.PID(), "error", err)
	}
	s.setState(id, e, status.Idle)
	s.notify(p, false, notify.Disconnected, "")
	metrics.IncDisconnect(id)
	s.record(history.Event{
		Type:      history.EventDisconnected,
		ProfileID: id,
		Name:      p.Name,
		PID:       e.inst.h.PID(),
		Reason:    "manual",
	})
	s.logger.Info("disconnected", "profile", id, "name", p.Name)
}

func (s *Supervisor) onEvent(id string, inst *instance, ev process.Event) {
	e, ok := s.entries[id]
	if !ok || e.inst != inst {
		s.logger.Debug("ignoring event from stale process", "profile", id, "event", ev.Kind.String())
		return
	}
	delete(s.entries, id)
	if e.confirm != nil {
		e.confirm.Stop()
	}
	s.setState(id, e, status.Idle)

	switch ev.Kind {
	case process.Errored:
		_ = inst.h.Terminate()
		p, _ := s.reg.Get(id)
		s.spawnFailed(p, inst.h, ev.Err)
	default:
		s.exited(id, inst, ev)
	}
	s.publish()
}

func (s *Supervisor) exited(id string, inst *instance, ev process.Event) {
	p, _ := s.reg.Get(id)
	f := ClassifyExit(p, ev.ExitCode, ev.Signal)

	log := s.logger.Info
	if f.Class != ClassClean {
		log = s.logger.Warn
	}
	log("process exited", "profile", id, "name", p.Name, "pid", inst.h.PID(),
		"code", ev.ExitCode, "signal", ev.Signal, "class", string(f.Class), "reason", f.Message)

	s.notify(p, false, notify.Disconnected, "")
	if f.Class == ClassMisconfigured {
		s.notify(p, false, notify.Warning, forwardOnlyHint)
	}
	metrics.IncExit(id, string(f.Class))
	s.record(history.Event{
		Type:      history.EventExited,
		ProfileID: id,
		Name:      p.Name,
		PID:       inst.h.PID(),
		ExitCode:  ev.ExitCode,
		Signal:    ev.Signal,
		Reason:    f.Message,
	})
	if p.AutoReconnect && f.Retryable {
		s.scheduleRetry(p, f)
	}
}

// spawnFailed handles both a failed Spawn (h is nil) and a runtime process error.
func (s *Supervisor) spawnFailed(p profile.Profile, h process.Handle, err error) {
	f := SpawnFailure(err)
	ev := history.Event{Type: history.EventSpawnError, ProfileID: p.ID, Name: p.Name, Reason: f.Message}
	if h != nil {
		ev.PID = h.PID()
	}
	s.logger.Error("connection error", "profile", p.ID, "name", p.Name, "error", err)
	metrics.IncSpawnError(p.ID)
	s.record(ev)
	if p.AutoReconnect {
		s.scheduleRetry(p, f)
	}
}

func (s *Supervisor) scheduleRetry(p profile.Profile, f Failure) {
	id := p.ID
	d := s.retry.Schedule(id, p.MaxAttempts(), func() {
		s.exec(func() { s.fireRetry(id) })
	})
	if !d.Scheduled {
		s.logger.Warn("reconnect attempts exhausted", "profile", id, "name", p.Name, "attempts", d.Attempt, "max", d.Max)
		s.notify(p, false, notify.ReconnectFailed, "")
		metrics.IncReconnectExhausted(id)
		s.record(history.Event{
			Type:      history.EventReconnectExhausted,
			ProfileID: id,
			Name:      p.Name,
			Attempt:   d.Attempt,
			Reason:    f.Message,
		})
		return
	}
	s.logger.Info("reconnect scheduled", "profile", id, "name", p.Name,
		"attempt", d.Attempt, "max", d.Max, "delay", d.Delay, "reason", f.Message)
	metrics.ObserveReconnectScheduled(id, d.Delay)
	s.record(history.Event{
		Type:      history.EventReconnectScheduled,
		ProfileID: id,
		Name:      p.Name,
		Attempt:   d.Attempt,
		Delay:     d.Delay,
		Reason:    f.Message,
	})
}

// fireRetry re-checks the profile when the backoff elapses: it must still exist,
// be enabled, and have no process.
func (s *Supervisor) fireRetry(id string) {
	if s.closed {
		return
	}
	p, ok := s.reg.Get(id)
	if !ok || !p.Enabled {
		s.logger.Debug("reconnect skipped", "profile", id)
		return
	}
	if _, running := s.entries[id]; running {
		return
	}
	s.connect(p, true)
	s.publish()
}

func (s *Supervisor) setState(id string, e *entry, to status.State) {
	if e.state == to {
		return
	}
	metrics.RecordStateTransition(id, string(e.state), string(to))
	e.state = to
}
