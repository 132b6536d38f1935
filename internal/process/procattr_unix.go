//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureSysProcAttr places the child in its own process group so the whole
// tunnel tree can be signalled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	return unix.Kill(-pid, sig)
}

func terminateGroup(pid int) error { return signalGroup(pid, unix.SIGTERM) }

func killGroup(pid int) error { return signalGroup(pid, unix.SIGKILL) }

// exitSignal extracts the terminating signal name from a wait status.
func exitSignal(st *exec.ExitError) string {
	ws, ok := st.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
