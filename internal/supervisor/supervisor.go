package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/evalops/vllm-fleet/internal/topology"
)

var ErrSpawn = errors.New("failed to start worker")

// Options configure how each worker in the pool is launched.
type Options struct {
	VLLMBin        string
	Model          string
	TensorParallel int
	ExtraArgs      []string // forwarded verbatim to every worker
	LogDir         string
}

// Worker is one spawned vLLM serving process, owned by the supervisor from
// spawn until its exit is observed.
type Worker struct {
	Placement topology.Placement
	LogPath   string
	StartedAt time.Time
	*Handle
}

func (w *Worker) Port() int {
	return w.Placement.Port
}

// Supervisor launches the worker pool and registers every process for
// cleanup the moment it starts.
type Supervisor struct {
	registry *Registry
	logger   *zap.Logger
}

func New(registry *Registry, logger *zap.Logger) *Supervisor {
	return &Supervisor{registry: registry, logger: logger.Named("supervisor")}
}

// SpawnAll launches one worker per placement, in placement order. Any spawn
// failure is fatal for the run; workers already started stay registered so
// cleanup can reach them.
func (s *Supervisor) SpawnAll(placements []topology.Placement, opts Options) ([]*Worker, error) {
	workers := make([]*Worker, 0, len(placements))
	for _, p := range placements {
		w, err := s.spawn(p, opts)
		if err != nil {
			return workers, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (s *Supervisor) spawn(p topology.Placement, opts Options) (*Worker, error) {
	log := s.logger.Sugar()

	logPath := filepath.Join(opts.LogDir, fmt.Sprintf("worker_%d.log", p.Port))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker log: %w", err)
	}

	args := []string{
		"serve", opts.Model,
		"-tp", strconv.Itoa(opts.TensorParallel),
		"--port", strconv.Itoa(p.Port),
	}
	args = append(args, opts.ExtraArgs...)

	cmd := exec.Command(opts.VLLMBin, args...) //nolint:gosec // expected subprocess launched with variable
	cmd.Env = overrideEnv(os.Environ(), "CUDA_VISIBLE_DEVICES", p.GPUs)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: placement %d (port %d): %v", ErrSpawn, p.Index, p.Port, err)
	}

	w := &Worker{
		Placement: p,
		LogPath:   logPath,
		StartedAt: time.Now(),
		Handle:    Watch(cmd, logFile),
	}
	// Registered before anything else can fail so cleanup always reaches it.
	s.registry.Add(w)

	log.Infow("worker started",
		"pid", cmd.Process.Pid,
		"port", p.Port,
		"gpus", p.GPUs,
		"log", logPath,
	)
	return w, nil
}

// overrideEnv replaces key in env, or appends it. getenv in the child
// returns the first match, so a plain append is not enough.
func overrideEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
