package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/evalops/vllm-fleet/internal/stats"
)

type fakeProc struct {
	exited atomic.Bool
	code   atomic.Int64
}

func (p *fakeProc) Pid() int      { return 1 }
func (p *fakeProc) Exited() bool  { return p.exited.Load() }
func (p *fakeProc) ExitCode() int { return int(p.code.Load()) }

func (p *fakeProc) exit(code int) {
	p.code.Store(int64(code))
	p.exited.Store(true)
}

// recordingPoller marks every polled port reachable and remembers the last
// port set it was asked for.
type recordingPoller struct {
	mu   sync.Mutex
	last []int
}

func (p *recordingPoller) PollAll(ctx context.Context, ports []int) []stats.WorkerStats {
	p.mu.Lock()
	p.last = append([]int(nil), ports...)
	p.mu.Unlock()
	results := make([]stats.WorkerStats, len(ports))
	for i, port := range ports {
		results[i] = stats.WorkerStats{Port: port, Reachable: true}
	}
	return results
}

func (p *recordingPoller) lastPorts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type recordingRenderer struct {
	mu    sync.Mutex
	views []StatusView
}

func (r *recordingRenderer) Render(v StatusView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recordingRenderer) lastView() (StatusView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return StatusView{}, false
	}
	return r.views[len(r.views)-1], true
}

func newTestMonitor(t *testing.T, workers []Target, proxy *fakeProc) (*Monitor, *recordingPoller, *recordingRenderer) {
	t.Helper()
	poller := &recordingPoller{}
	renderer := &recordingRenderer{}
	m := New(Config{
		Workers:       workers,
		Proxy:         ProxyInfo{Proc: proxy, Addr: "http://127.0.0.1:8080"},
		LogDir:        t.TempDir(),
		Tick:          5 * time.Millisecond,
		StatsInterval: time.Millisecond,
	}, poller, renderer, zaptest.NewLogger(t))
	return m, poller, renderer
}

func TestMonitorRun(t *testing.T) {
	t.Run("ProxyDeathTerminatesLoop", func(t *testing.T) {
		proxy := &fakeProc{}
		w := &fakeProc{}
		m, _, renderer := newTestMonitor(t, []Target{{Port: 8000, Proc: w}}, proxy)

		errCh := make(chan error, 1)
		go func() { errCh <- m.Run(context.Background()) }()

		require.Eventually(t, func() bool {
			_, ok := renderer.lastView()
			return ok
		}, 5*time.Second, 5*time.Millisecond, "loop should render at least once before proxy dies")

		proxy.exit(1)
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrProxyExited)
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop after proxy death")
		}
	})

	t.Run("CancellationTerminatesLoop", func(t *testing.T) {
		proxy := &fakeProc{}
		m, _, _ := newTestMonitor(t, nil, proxy)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- m.Run(ctx) }()
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop after cancellation")
		}
	})

	t.Run("DeadWorkerIsExcludedNotFatal", func(t *testing.T) {
		logDir := t.TempDir()
		logPath := filepath.Join(logDir, "worker_8000.log")
		require.NoError(t, os.WriteFile(logPath, []byte("CUDA out of memory\n"), 0o644))

		proxy := &fakeProc{}
		w0 := &fakeProc{}
		w1 := &fakeProc{}
		m, poller, renderer := newTestMonitor(t, []Target{
			{Port: 8000, LogPath: logPath, Proc: w0},
			{Port: 8001, Proc: w1},
		}, proxy)

		errCh := make(chan error, 1)
		go func() { errCh <- m.Run(context.Background()) }()

		w0.exit(137)

		require.Eventually(t, func() bool {
			ports := poller.lastPorts()
			return len(ports) == 1 && ports[0] == 8001
		}, 5*time.Second, 5*time.Millisecond, "dead worker should drop out of the poll set")

		view, ok := renderer.lastView()
		require.True(t, ok)
		require.Len(t, view.Workers, 2, "status view still lists every placement")

		require.Eventually(t, func() bool {
			view, ok := renderer.lastView()
			return ok && view.Workers[0].Down && !view.Workers[1].Down
		}, 5*time.Second, 5*time.Millisecond)

		select {
		case err := <-errCh:
			t.Fatalf("monitor stopped on worker death: %v", err)
		default:
		}

		proxy.exit(0)
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrProxyExited)
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop after proxy death")
		}
	})
}
