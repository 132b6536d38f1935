// Package history records tunnel lifecycle events to external sinks.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawned            EventType = "spawned"
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventExited             EventType = "exited"
	EventSpawnError         EventType = "spawn_error"
	EventReconnectScheduled EventType = "reconnect_scheduled"
	EventReconnectExhausted EventType = "reconnect_exhausted"
)

// Event is one lifecycle transition of a profile's connection.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	ProfileID  string        `json:"profile_id"`
	Name       string        `json:"name"`
	PID        int           `json:"pid,omitempty"`
	ExitCode   int           `json:"exit_code,omitempty"`
	Signal     string        `json:"signal,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(Event) {}
