package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loykin/tunnelctl/internal/profile"
)

func TestBuildAppendsOptionsInOrder(t *testing.T) {
	p := profile.Profile{Command: "ssh -N -L 8080:localhost:80 host", KeepAlive: true, KeepAliveInterval: 30}
	got := Build(p)
	want := "ssh -N -L 8080:localhost:80 host" +
		" -o ServerAliveInterval=30" +
		" -o ServerAliveCountMax=3" +
		" -o ExitOnForwardFailure=yes" +
		" -o TCPKeepAlive=yes"
	assert.Equal(t, want, got)
}

func TestBuildWithoutKeepAlive(t *testing.T) {
	p := profile.Profile{Command: "ssh -N host", KeepAlive: false, KeepAliveInterval: 30}
	got := Build(p)
	assert.NotContains(t, got, OptServerAliveInterval)
	assert.NotContains(t, got, OptServerAliveCountMax)
	assert.True(t, strings.HasSuffix(got, "-o ExitOnForwardFailure=yes -o TCPKeepAlive=yes"))
}

func TestBuildDefaultsProbeInterval(t *testing.T) {
	got := Build(profile.Profile{Command: "ssh -N host", KeepAlive: true})
	assert.Contains(t, got, "ServerAliveInterval=60")
}

func TestBuildDoesNotDuplicateExistingFailFast(t *testing.T) {
	p := profile.Profile{Command: "ssh -N -o ExitOnForwardFailure=no host", KeepAlive: true}
	got := Build(p)
	assert.Equal(t, 1, strings.Count(got, OptExitOnForwardFail))
	assert.Contains(t, got, "ExitOnForwardFailure=no")
}

func TestBuildPassesMalformedTemplateThrough(t *testing.T) {
	got := Build(profile.Profile{Command: "  'unterminated"})
	assert.True(t, strings.HasPrefix(got, "  'unterminated"))
}

func TestBuildIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := profile.Profile{
			Command:           rapid.StringMatching(`ssh( -[A-Za-z]( [a-z0-9:.=]{1,12})?){0,5}`).Draw(t, "command"),
			KeepAlive:         rapid.Bool().Draw(t, "keepAlive"),
			KeepAliveInterval: rapid.IntRange(-5, 600).Draw(t, "interval"),
		}
		once := Build(p)
		p.Command = once
		twice := Build(p)
		if once != twice {
			t.Fatalf("build not idempotent:\n once=%q\ntwice=%q", once, twice)
		}
	})
}

func TestSplit(t *testing.T) {
	prog, args := Split("  ssh   -N  -L 1:2:3   host ")
	require.Equal(t, "ssh", prog)
	assert.Equal(t, []string{"-N", "-L", "1:2:3", "host"}, args)

	prog, args = Split("autossh")
	assert.Equal(t, "autossh", prog)
	assert.Nil(t, args)

	prog, args = Split("   ")
	assert.Empty(t, prog)
	assert.Nil(t, args)
}

func TestHasForwardOnly(t *testing.T) {
	assert.True(t, HasForwardOnly("ssh -N -L 1:2:3 host"))
	assert.False(t, HasForwardOnly("ssh -L 1:2:3 host"))
	assert.False(t, HasForwardOnly("-N ssh"))
}
