// Package command turns a profile's command template into the invocation that is
// actually spawned. Reliability options are appended only when the template does not
// already mention them, so Build is idempotent over its own output.
package command

import (
	"strconv"
	"strings"

	"github.com/loykin/tunnelctl/internal/profile"
)

// Option names searched for in the template before anything is appended.
const (
	OptServerAliveInterval = "ServerAliveInterval"
	OptServerAliveCountMax = "ServerAliveCountMax"
	OptExitOnForwardFail   = "ExitOnForwardFailure"
	OptTCPKeepAlive        = "TCPKeepAlive"

	// ProbeCountMax is the fixed number of unanswered probes before the client gives up.
	ProbeCountMax = 3

	forwardOnlyFlag = " -N"
)

// Build returns the profile's command with liveness and fail-fast options appended.
// A malformed template is passed through untouched apart from the appended options.
func Build(p profile.Profile) string {
	cmd := p.Command
	if p.KeepAlive {
		cmd = appendOpt(cmd, OptServerAliveInterval, strconv.Itoa(p.ProbeInterval()))
		cmd = appendOpt(cmd, OptServerAliveCountMax, strconv.Itoa(ProbeCountMax))
	}
	cmd = appendOpt(cmd, OptExitOnForwardFail, "yes")
	cmd = appendOpt(cmd, OptTCPKeepAlive, "yes")
	return cmd
}

func appendOpt(cmd, name, value string) string {
	if strings.Contains(cmd, name) {
		return cmd
	}
	return cmd + " -o " + name + "=" + value
}

// Split tokenizes an invocation on whitespace into a program and its arguments.
// Quoting is not interpreted.
func Split(invocation string) (string, []string) {
	parts := strings.Fields(invocation)
	if len(parts) == 0 {
		return "", nil
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return parts[0], args
}

// HasForwardOnly reports whether the command carries the "no remote command" flag
// that a pure forwarding tunnel needs.
func HasForwardOnly(cmd string) bool {
	return strings.Contains(cmd, forwardOnlyFlag)
}
