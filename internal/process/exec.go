package process

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/tunnelctl/internal/logger"
)

// DefaultGrace is how long Terminate waits after SIGTERM before sending SIGKILL.
const DefaultGrace = 5 * time.Second

// ExecSpawner runs real OS processes.
type ExecSpawner struct {
	Log    logger.Config // per-process stdout/stderr files; empty discards output
	Env    []string      // extra environment, appended to the parent's
	Grace  time.Duration
	Logger *slog.Logger

	output func(Request) (io.WriteCloser, io.WriteCloser) // overrides Log in tests
}

func (s *ExecSpawner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *ExecSpawner) grace() time.Duration {
	if s.Grace <= 0 {
		return DefaultGrace
	}
	return s.Grace
}

// Spawn starts req and returns as soon as the process exists.
func (s *ExecSpawner) Spawn(req Request, onEvent func(Event)) (Handle, error) {
	if req.Program == "" {
		return nil, &SpawnError{Program: req.Program, Err: errors.New("empty command")}
	}
	// #nosec G204 -- the command line is operator supplied
	cmd := exec.Command(req.Program, req.Args...)
	configureSysProcAttr(cmd)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	stdout, stderr := s.writers(req)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		closeAll(stdout, stderr)
		return nil, &SpawnError{Program: req.Program, Err: err}
	}

	h := &execHandle{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		grace:   s.grace(),
		done:    make(chan struct{}),
	}
	s.logger().Debug("process started", "profile", req.ProfileID, "name", req.Name, "pid", h.pid)

	go func() {
		err := cmd.Wait()
		closeAll(stdout, stderr)
		// The pid is reaped once Wait returns; Terminate must not signal it again.
		h.markExited()
		ev := Event{Kind: Exited, ExitCode: 0}
		var ee *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &ee):
			ev.ExitCode = ee.ExitCode()
			ev.Signal = exitSignal(ee)
		default:
			// Wait failed for a reason other than the exit status (I/O copy error).
			onEvent(Event{Kind: Errored, Err: err})
			ev.ExitCode = -1
			if cmd.ProcessState != nil {
				ev.ExitCode = cmd.ProcessState.ExitCode()
			}
		}
		onEvent(ev)
	}()
	return h, nil
}

func (s *ExecSpawner) writers(req Request) (io.WriteCloser, io.WriteCloser) {
	if s.output != nil {
		return s.output(req)
	}
	if s.Log.Dir != "" || s.Log.StdoutPath != "" || s.Log.StderrPath != "" {
		if s.Log.Dir != "" {
			_ = os.MkdirAll(s.Log.Dir, 0o750)
		}
		name := req.ProfileID
		if name == "" {
			name = req.Name
		}
		out, errW, err := s.Log.Writers(name)
		if err == nil && out != nil && errW != nil {
			return out, errW
		}
		closeAll(out, errW)
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil
	}
	return null, nopCloser{null}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func closeAll(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}

type execHandle struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time
	grace   time.Duration

	mu         sync.Mutex
	exited     bool
	terminated bool
	done       chan struct{}
}

func (h *execHandle) PID() int             { return h.pid }
func (h *execHandle) StartedAt() time.Time { return h.started }

func (h *execHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited && !h.terminated
}

func (h *execHandle) markExited() {
	h.mu.Lock()
	if !h.exited {
		h.exited = true
		close(h.done)
	}
	h.mu.Unlock()
}

// Terminate sends SIGTERM to the process group and escalates to SIGKILL if the
// process is still running after the grace period. It does not block.
func (h *execHandle) Terminate() error {
	h.mu.Lock()
	if h.exited || h.terminated {
		h.mu.Unlock()
		return nil
	}
	h.terminated = true
	h.mu.Unlock()

	err := terminateGroup(h.pid)
	go func() {
		select {
		case <-h.done:
		case <-time.After(h.grace):
			_ = killGroup(h.pid)
		}
	}()
	return err
}

func (h *execHandle) Stats() (Stats, error) {
	st := Stats{PID: h.pid, StartedAt: h.started}
	p, err := gopsproc.NewProcess(int32(h.pid))
	if err != nil {
		return st, err
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		st.Threads = n
	}
	return st, nil
}
