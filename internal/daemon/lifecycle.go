// Package daemon manages the per-workspace background indexing worker:
// starting it detached, reporting on it, stopping it, and the worker loop
// itself.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mvp-joe/cortex-index/internal/daemon/state"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

const (
	defaultStartTimeout = 10 * time.Second
	defaultStopTimeout  = 10 * time.Second
	pollInterval        = 100 * time.Millisecond
)

var (
	// ErrStartTimeout is returned when a spawned worker never reports in.
	ErrStartTimeout = errors.New("daemon did not become ready")
	// ErrStartFailed is returned when a spawned worker exits during startup.
	ErrStartFailed = errors.New("daemon exited during startup")
)

// Info describes the recorded daemon of a workspace.
type Info struct {
	Liveness state.Liveness     `json:"-"`
	Status   string             `json:"status"`
	State    *state.DaemonState `json:"state,omitempty"`
}

// Status reads daemon.json and checks whether its pid is alive. It does not
// modify anything; a stale record is reported as such.
func Status(layout workspace.Layout) Info {
	s, l := state.Inspect(layout.DaemonStatePath())
	return Info{Liveness: l, Status: l.String(), State: s}
}

// StartOptions configures Start.
type StartOptions struct {
	// Executable is the binary to spawn. Defaults to the running executable.
	Executable string

	// Args replaces the default worker arguments.
	Args []string

	Timeout time.Duration
}

// Start launches the background worker unless one is already running.
// started is false when a live worker was found.
func Start(ctx context.Context, layout workspace.Layout, opts StartOptions) (info Info, started bool, err error) {
	path := layout.DaemonStatePath()
	switch s, l := state.Inspect(path); l {
	case state.Running:
		return Info{Liveness: l, Status: l.String(), State: s}, false, nil
	case state.Stale:
		if err := state.Remove(path); err != nil {
			return Info{}, false, err
		}
	}

	if err := layout.Ensure(); err != nil {
		return Info{}, false, err
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return Info{}, false, fmt.Errorf("failed to locate executable: %w", err)
		}
		opts.Executable = exe
	}
	if opts.Args == nil {
		opts.Args = []string{"daemon", "run", "--path", layout.Root}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultStartTimeout
	}

	pid, exited, err := spawn(opts.Executable, opts.Args, layout.Root)
	if err != nil {
		return Info{}, false, fmt.Errorf("failed to start daemon: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(opts.Timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return Info{}, false, ctx.Err()

		case werr := <-exited:
			// Losing the singleton race exits cleanly; the winner is what we report.
			if s, l := state.Inspect(path); l == state.Running {
				return Info{Liveness: l, Status: l.String(), State: s}, false, nil
			}
			if werr == nil {
				return Info{}, false, ErrStartFailed
			}
			return Info{}, false, fmt.Errorf("%w: %v", ErrStartFailed, werr)

		case <-ticker.C:
			if s, l := state.Inspect(path); l == state.Running && s.PID == pid {
				return Info{Liveness: l, Status: l.String(), State: s}, true, nil
			}

		case <-timeout.C:
			return Info{}, false, fmt.Errorf("%w after %s (pid %d)", ErrStartTimeout, opts.Timeout, pid)
		}
	}
}

// SpawnDetached starts exe in its own process group with no terminal
// attached and returns its pid without waiting for it.
func SpawnDetached(exe string, args []string, dir string) (int, error) {
	pid, _, err := spawn(exe, args, dir)
	return pid, err
}

func spawn(exe string, args []string, dir string) (int, <-chan error, error) {
	cmd := exec.Command(exe, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = getSysProcAttr()
	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}
	// Reap the child so an exited process is not mistaken for a live one.
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	return cmd.Process.Pid, exited, nil
}

// StopResult reports what Stop did.
type StopResult int

const (
	StopNotRunning StopResult = iota
	StopStaleRemoved
	StopTerminated
	StopKilled
)

func (r StopResult) String() string {
	switch r {
	case StopStaleRemoved:
		return "removed stale daemon state"
	case StopTerminated:
		return "daemon stopped"
	case StopKilled:
		return "daemon killed"
	default:
		return "daemon not running"
	}
}

// Stop terminates the running worker, escalating to a kill when it does not
// exit within timeout, and removes daemon.json.
func Stop(ctx context.Context, layout workspace.Layout, timeout time.Duration) (StopResult, error) {
	path := layout.DaemonStatePath()
	s, l := state.Inspect(path)
	switch l {
	case state.NotRunning:
		return StopNotRunning, nil
	case state.Stale:
		return StopStaleRemoved, state.Remove(path)
	}

	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	if err := terminate(s.PID); err != nil && state.ProcessAlive(s.PID) {
		return StopNotRunning, fmt.Errorf("failed to signal daemon (pid %d): %w", s.PID, err)
	}

	result := StopTerminated
	if !waitExit(ctx, s.PID, timeout) {
		if ctx.Err() != nil {
			return StopNotRunning, ctx.Err()
		}
		if err := kill(s.PID); err != nil && state.ProcessAlive(s.PID) {
			return StopNotRunning, fmt.Errorf("failed to kill daemon (pid %d): %w", s.PID, err)
		}
		waitExit(ctx, s.PID, timeout)
		result = StopKilled
	}
	return result, state.Remove(path)
}

func waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for state.ProcessAlive(pid) {
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return true
}
