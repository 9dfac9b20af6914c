package supervisor

import (
	"errors"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// killFunc is the function signature for signaling processes
type killFunc func(pid int, sig syscall.Signal) error

// Registry records every spawned process in start order (workers first,
// proxy last) so shutdown can signal each one, no matter which code path
// ends the run.
type Registry struct {
	mu     sync.Mutex
	procs  []Process
	once   sync.Once
	killFn killFunc // injectable kill function for testing
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger.Named("registry")}
}

// Add registers a process for cleanup. Entries are never removed.
func (r *Registry) Add(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs = append(r.procs, p)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Cleanup sends SIGTERM to the process group of every registered process
// that has not already been reaped. It runs at most once, does not wait for
// the processes to exit, and never escalates to SIGKILL; signaling an
// already-dead group is not an error.
func (r *Registry) Cleanup() {
	r.once.Do(func() {
		log := r.logger.Sugar()
		r.mu.Lock()
		defer r.mu.Unlock()

		log.Infow("shutting down processes", "count", len(r.procs))
		kill := r.killFn
		if kill == nil {
			kill = syscall.Kill
		}
		for _, p := range r.procs {
			if p.Exited() {
				continue
			}
			if err := kill(-p.Pid(), syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
				log.Errorw("failed to signal process group", "pid", p.Pid(), "error", err)
			}
		}
		log.Infow("cleanup complete")
	})
}
