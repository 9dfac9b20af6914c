package supervisor

import (
	"errors"
	"io"
	"os/exec"
)

// Process is the minimal surface the registry and the monitor need from a
// supervised OS process.
type Process interface {
	Pid() int
	Exited() bool
	ExitCode() int
}

// Handle tracks a started process until it is reaped. Exit state is
// published through a closed channel so it can be checked without blocking
// and without racing the reaper goroutine.
type Handle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// Watch reaps the already-started command in the background, closing the
// given files once it exits. The command must have been started with
// Setpgid so the whole group can be signaled later.
func Watch(cmd *exec.Cmd, closers ...io.Closer) *Handle {
	h := &Handle{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		for _, c := range closers {
			c.Close()
		}
		h.exitCode = exitStatus(err)
		close(h.done)
	}()
	return h
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode is only meaningful once Exited reports true.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
