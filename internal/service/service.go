package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/evalops/vllm-fleet/internal/config"
	"github.com/evalops/vllm-fleet/internal/monitor"
	"github.com/evalops/vllm-fleet/internal/proxy"
	"github.com/evalops/vllm-fleet/internal/stats"
	"github.com/evalops/vllm-fleet/internal/supervisor"
	"github.com/evalops/vllm-fleet/internal/topology"
)

// Service is the root lifecycle owner for a deployment: it plans the
// topology, spawns the pool, starts the load balancer, runs the monitor
// loop, and guarantees cleanup of every spawned process on every exit path.
type Service struct {
	cfg      config.Config
	registry *supervisor.Registry
	renderer monitor.Renderer

	logger *zap.Logger
}

// New creates a Service. The renderer is injectable so tests can capture
// status views instead of terminal output; nil selects the stdout table.
func New(cfg config.Config, renderer monitor.Renderer, baseLogger *zap.Logger) *Service {
	if renderer == nil {
		renderer = monitor.NewTableRenderer(os.Stdout)
	}
	return &Service{
		cfg:      cfg,
		registry: supervisor.NewRegistry(baseLogger),
		renderer: renderer,
		logger:   baseLogger.Named("service"),
	}
}

// Registry exposes the process registry, mainly for tests asserting on
// cleanup behavior.
func (s *Service) Registry() *supervisor.Registry {
	return s.registry
}

// Run deploys the pool and blocks until the proxy dies or ctx is canceled.
// Preflight failures return before anything is spawned; once the first
// process starts, cleanup is guaranteed.
func (s *Service) Run(ctx context.Context) error {
	log := s.logger.Sugar()

	placements, err := topology.Plan(s.cfg.GPUSpec, s.cfg.StartPort)
	if err != nil {
		return err
	}
	proxyCfg := proxy.Config{
		NginxBin:    s.cfg.NginxBin,
		ListenPort:  s.cfg.ListenPort,
		WorkerPorts: topology.Ports(placements),
		LogDir:      s.cfg.LogDir,
	}
	if err := proxy.Preflight(proxyCfg); err != nil {
		return err
	}

	// Run-scoped log directory, cleared at the start of each run.
	if err := os.RemoveAll(s.cfg.LogDir); err != nil {
		return fmt.Errorf("failed to clear log directory: %w", err)
	}
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	defer s.registry.Cleanup()

	log.Infow("starting vLLM workers",
		"count", len(placements),
		"model", s.cfg.Model,
		"tp", s.cfg.TensorParallel,
		"gpus", s.cfg.GPUSpec,
	)
	sup := supervisor.New(s.registry, s.logger)
	workers, err := sup.SpawnAll(placements, supervisor.Options{
		VLLMBin:        s.cfg.VLLMBin,
		Model:          s.cfg.Model,
		TensorParallel: s.cfg.TensorParallel,
		ExtraArgs:      strings.Fields(s.cfg.ExtraArgs),
		LogDir:         s.cfg.LogDir,
	})
	if err != nil {
		return err
	}

	log.Infow("starting nginx load balancer", "port", s.cfg.ListenPort)
	px, err := proxy.Start(proxyCfg, s.registry, s.logger)
	if err != nil {
		return err
	}

	targets := make([]monitor.Target, len(workers))
	for i, w := range workers {
		targets[i] = monitor.Target{Port: w.Port(), LogPath: w.LogPath, Proc: w}
	}
	m := monitor.New(monitor.Config{
		Workers:       targets,
		Proxy:         monitor.ProxyInfo{Proc: px, Addr: px.Addr(), Logs: []string{px.StdoutLog, px.ErrorLog}},
		LogDir:        s.cfg.LogDir,
		Tick:          s.cfg.Tick,
		StatsInterval: s.cfg.StatsInterval,
		TailLines:     s.cfg.TailLines,
	}, stats.NewPoller(s.logger), s.renderer, s.logger)

	log.Infow("system running", "load_balancer", px.Addr(), "logs", s.cfg.LogDir)
	err = m.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Infow("interrupted, shutting down")
		return nil
	}
	return err
}
