package proxy

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/evalops/vllm-fleet/internal/supervisor"
	"github.com/evalops/vllm-fleet/internal/util"
)

var (
	ErrBinaryNotFound = errors.New("nginx binary not found")
	ErrPortInUse      = errors.New("port already in use")
	ErrStart          = errors.New("failed to start nginx")
)

// Proxy is the single nginx load balancer fronting the worker pool.
type Proxy struct {
	ListenPort int
	ConfPath   string
	StdoutLog  string
	ErrorLog   string
	*supervisor.Handle
}

func (p *Proxy) Addr() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.ListenPort)
}

// Preflight verifies the nginx binary and every required port before any
// process is spawned, so a doomed deployment never leaves processes behind.
func Preflight(cfg Config) error {
	if _, err := exec.LookPath(cfg.NginxBin); err != nil {
		return fmt.Errorf("%w: %q", ErrBinaryNotFound, cfg.NginxBin)
	}
	if util.PortInUse(cfg.ListenPort) {
		return fmt.Errorf("%w: load balancer port %d", ErrPortInUse, cfg.ListenPort)
	}
	for _, port := range cfg.WorkerPorts {
		if util.PortInUse(port) {
			return fmt.Errorf("%w: worker port %d", ErrPortInUse, port)
		}
	}
	return nil
}

// Start renders the configuration, writes it under the run's log directory,
// and launches nginx in the foreground in its own process group. Called
// strictly after all workers are spawned so the upstream list is complete.
func Start(cfg Config, registry *supervisor.Registry, logger *zap.Logger) (*Proxy, error) {
	log := logger.Named("proxy").Sugar()

	conf, err := Render(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: render config: %v", ErrStart, err)
	}
	confPath := cfg.ConfPath()
	if err := os.WriteFile(confPath, []byte(conf), 0o644); err != nil { //nolint:gosec // operator-readable config
		return nil, fmt.Errorf("%w: write config: %v", ErrStart, err)
	}

	logFile, err := os.Create(cfg.StdoutLog())
	if err != nil {
		return nil, fmt.Errorf("%w: create log: %v", ErrStart, err)
	}

	// nginx writes startup errors to stderr before the error_log applies,
	// so both streams go to the same file.
	cmd := exec.Command(cfg.NginxBin, "-c", confPath, "-g", "daemon off;") //nolint:gosec // expected subprocess launched with variable
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	p := &Proxy{
		ListenPort: cfg.ListenPort,
		ConfPath:   confPath,
		StdoutLog:  cfg.StdoutLog(),
		ErrorLog:   cfg.ErrorLog(),
		Handle:     supervisor.Watch(cmd, logFile),
	}
	registry.Add(p)

	log.Infow("nginx started",
		"pid", cmd.Process.Pid,
		"port", cfg.ListenPort,
		"upstreams", len(cfg.WorkerPorts),
		"conf", confPath,
	)
	return p, nil
}
