package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evalops/vllm-fleet/internal/stats"
	"github.com/evalops/vllm-fleet/internal/supervisor"
	"github.com/evalops/vllm-fleet/internal/util"
)

var ErrProxyExited = errors.New("nginx exited")

const (
	DefaultTick          = time.Second
	DefaultStatsInterval = 5 * time.Second
	DefaultTailLines     = 20
)

// Target is one supervised worker as seen by the monitor.
type Target struct {
	Port    int
	LogPath string
	Proc    supervisor.Process
}

// ProxyInfo is the load balancer as seen by the monitor.
type ProxyInfo struct {
	Proc supervisor.Process
	Addr string
	Logs []string
}

// Poller yields one stats snapshot per requested port.
type Poller interface {
	PollAll(ctx context.Context, ports []int) []stats.WorkerStats
}

// Config drives one monitoring run.
type Config struct {
	Workers       []Target
	Proxy         ProxyInfo
	LogDir        string
	Tick          time.Duration
	StatsInterval time.Duration
	TailLines     int
}

// Monitor is the single-threaded cooperative loop supervising a deployment.
// It exits only when the proxy dies or the context is canceled; worker
// deaths degrade the pool but do not end the run.
type Monitor struct {
	cfg      Config
	poller   Poller
	renderer Renderer
	logger   *zap.Logger
	down     []bool // indexed like cfg.Workers, true once reported dead
}

func New(cfg Config, poller Poller, renderer Renderer, logger *zap.Logger) *Monitor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	return &Monitor{
		cfg:      cfg,
		poller:   poller,
		renderer: renderer,
		logger:   logger.Named("monitor"),
		down:     make([]bool, len(cfg.Workers)),
	}
}

// Run blocks until the proxy exits (returned as ErrProxyExited) or ctx is
// canceled (returned as ctx.Err()). Each iteration: stats refresh if due,
// proxy liveness, then worker liveness in placement order.
func (m *Monitor) Run(ctx context.Context) error {
	log := m.logger.Sugar()

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	var lastStats time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Since(lastStats) >= m.cfg.StatsInterval {
			m.refreshStats(ctx)
			lastStats = time.Now()
		}

		if m.cfg.Proxy.Proc.Exited() {
			code := m.cfg.Proxy.Proc.ExitCode()
			log.Errorw("nginx exited", "code", code)
			for _, logPath := range m.cfg.Proxy.Logs {
				if tail := util.TailFile(logPath, m.cfg.TailLines); tail != "" {
					log.Errorw("nginx log tail", "log", logPath, "tail", tail)
				}
			}
			return fmt.Errorf("%w: exit code %d", ErrProxyExited, code)
		}

		m.checkWorkers()
	}
}

// checkWorkers scans placements in order and reports at most one newly dead
// worker per iteration. A dead worker is reported once, marked down, and
// excluded from future polls and scans; it does not end the run.
func (m *Monitor) checkWorkers() {
	log := m.logger.Sugar()
	for i, w := range m.cfg.Workers {
		if m.down[i] || !w.Proc.Exited() {
			continue
		}
		m.down[i] = true
		log.Errorw("worker exited",
			"index", i,
			"port", w.Port,
			"code", w.Proc.ExitCode(),
			"log", w.LogPath,
		)
		if tail := util.TailFile(w.LogPath, m.cfg.TailLines); tail != "" {
			log.Errorw("worker log tail", "port", w.Port, "tail", tail)
		}
		return
	}
}

// refreshStats polls every live worker and redraws the status view. Down
// workers are shown as such without being polled.
func (m *Monitor) refreshStats(ctx context.Context) {
	livePorts := make([]int, 0, len(m.cfg.Workers))
	for i, w := range m.cfg.Workers {
		if !m.down[i] {
			livePorts = append(livePorts, w.Port)
		}
	}
	polled := m.poller.PollAll(ctx, livePorts)
	byPort := make(map[int]stats.WorkerStats, len(polled))
	for _, st := range polled {
		byPort[st.Port] = st
	}

	view := StatusView{
		LogDir:    m.cfg.LogDir,
		ProxyAddr: m.cfg.Proxy.Addr,
		Workers:   make([]WorkerStatus, len(m.cfg.Workers)),
	}
	for i, w := range m.cfg.Workers {
		view.Workers[i] = WorkerStatus{
			Port:  w.Port,
			Down:  m.down[i],
			Stats: byPort[w.Port],
		}
	}
	m.renderer.Render(view)
}
