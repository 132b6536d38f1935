// Package process spawns tunnel client processes and reports their lifecycle as events.
package process

import (
	"fmt"
	"time"
)

// Request describes one process to spawn for a profile.
type Request struct {
	ProfileID string
	Name      string
	Program   string
	Args      []string
}

// EventKind tags a lifecycle Event.
type EventKind int

const (
	// Exited is delivered once when the process terminates.
	Exited EventKind = iota
	// Errored is delivered when the process hit a runtime I/O failure. It precedes Exited.
	Errored
)

func (k EventKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a lifecycle notification for one process instance.
type Event struct {
	Kind     EventKind
	ExitCode int    // -1 when the process was terminated by a signal
	Signal   string // e.g. "SIGTERM"; empty for a normal exit
	Err      error  // set for Errored
}

// Stats is a point-in-time resource sample of a live process.
type Stats struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
}

// Handle references one spawned process instance.
type Handle interface {
	PID() int
	StartedAt() time.Time
	// Alive reports whether the process is running and has not been asked to terminate.
	Alive() bool
	// Terminate asks the process to stop. Calling it again, or after exit, is a no-op.
	Terminate() error
	Stats() (Stats, error)
}

// Spawner starts processes without blocking on them. onEvent is called from a
// background goroutine: at most one Errored, then exactly one Exited per instance.
type Spawner interface {
	Spawn(req Request, onEvent func(Event)) (Handle, error)
}

// SpawnError reports that a process could not be created.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
