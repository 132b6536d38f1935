package supervisor

import (
	"fmt"

	"github.com/loykin/tunnelctl/internal/command"
	"github.com/loykin/tunnelctl/internal/profile"
)

// FailureClass names why a tunnel went down.
type FailureClass string

const (
	ClassSpawn            FailureClass = "spawn_error"
	ClassConnection       FailureClass = "connection"
	ClassAuth             FailureClass = "auth"
	ClassMisconfigured    FailureClass = "misconfigured"
	ClassRemoteTerminated FailureClass = "remote_terminated"
	ClassSignal           FailureClass = "signal"
	ClassExit             FailureClass = "exit"
	ClassClean            FailureClass = "clean"
)

// manualSignal is treated as an operator-initiated stop no matter who sent it.
const manualSignal = "SIGTERM"

// Failure is the diagnosis of one process exit.
type Failure struct {
	Class   FailureClass
	Code    int // -1 when the process had no exit code
	Signal  string
	Message string
	// Retryable is the exit-side half of the reconnect rule: non-zero code and not
	// terminated by the manual-disconnect signal. AutoReconnect is checked separately.
	Retryable bool
}

// ClassifyExit diagnoses an exit. The class only drives diagnostics; retry
// eligibility depends on the code and signal alone.
func ClassifyExit(p profile.Profile, code int, signal string) Failure {
	f := Failure{
		Code:      code,
		Signal:    signal,
		Retryable: code != 0 && signal != manualSignal,
	}
	switch {
	case signal == manualSignal && code < 0:
		if command.HasForwardOnly(p.Command) {
			f.Class = ClassRemoteTerminated
			f.Message = "connection terminated by remote server; check authentication and server settings"
		} else {
			f.Class = ClassMisconfigured
			f.Message = "connection terminated; missing -N flag? add -N to prevent remote command execution"
		}
	case code == 255:
		f.Class = ClassConnection
		f.Message = "connection failed; check hostname, port, and credentials"
	case code == 1:
		f.Class = ClassAuth
		f.Message = "authentication failed or permission denied"
	case code == 0:
		f.Class = ClassClean
		f.Message = "exited cleanly"
	case code < 0:
		f.Class = ClassSignal
		f.Message = fmt.Sprintf("terminated by %s", signal)
	default:
		f.Class = ClassExit
		f.Message = fmt.Sprintf("exit with code: %d", code)
	}
	return f
}

// SpawnFailure diagnoses a process that could not start or failed at runtime.
// It is always retryable.
func SpawnFailure(err error) Failure {
	return Failure{Class: ClassSpawn, Code: -1, Message: fmt.Sprintf("connection error: %v", err), Retryable: true}
}
