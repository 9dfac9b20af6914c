package stats

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/evalops/vllm-fleet/internal/util"
)

// metricsServer serves a fixed body on 127.0.0.1 and reports its port.
func metricsServer(t *testing.T, handler http.HandlerFunc) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return l.Addr().(*net.TCPAddr).Port
}

func TestPoll(t *testing.T) {
	p := NewPoller(zaptest.NewLogger(t))

	t.Run("ParsesCounters", func(t *testing.T) {
		port := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `vllm:num_requests_running{model_name="m"} 3.0`)
			fmt.Fprintln(w, `vllm:request_success_total{model_name="m"} 128.0`)
			fmt.Fprintln(w, `python_gc_objects_collected_total{generation="0"} 51149.0`)
		})
		st := p.Poll(context.Background(), port)
		assert.True(t, st.Reachable)
		assert.Equal(t, 3, st.Running)
		assert.Equal(t, 128, st.Succeeded)
	})

	t.Run("MissingCountersAreZero", func(t *testing.T) {
		port := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "# no vllm counters yet")
		})
		st := p.Poll(context.Background(), port)
		assert.True(t, st.Reachable)
		assert.Equal(t, 0, st.Running)
		assert.Equal(t, 0, st.Succeeded)
	})

	t.Run("ConnectionRefused", func(t *testing.T) {
		st := p.Poll(context.Background(), util.FindPort())
		assert.False(t, st.Reachable)
	})

	t.Run("Non200", func(t *testing.T) {
		port := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		st := p.Poll(context.Background(), port)
		assert.False(t, st.Reachable)
	})

	t.Run("MalformedCounter", func(t *testing.T) {
		port := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `vllm:num_requests_running{model_name="m"} not-a-number`)
		})
		st := p.Poll(context.Background(), port)
		assert.False(t, st.Reachable)
	})
}

func TestPollAll(t *testing.T) {
	p := NewPoller(zaptest.NewLogger(t))

	t.Run("ResultsInInputOrder", func(t *testing.T) {
		ports := make([]int, 3)
		for i := range ports {
			total := (i + 1) * 10
			ports[i] = metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, `vllm:request_success_total{m="x"} `+strconv.Itoa(total)+`.0`)
			})
		}
		results := p.PollAll(context.Background(), ports)
		require.Len(t, results, 3)
		for i, st := range results {
			assert.Equal(t, ports[i], st.Port)
			assert.Equal(t, (i+1)*10, st.Succeeded)
		}
	})

	t.Run("SlowWorkerDoesNotStallOthers", func(t *testing.T) {
		slow := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(scrapeTimeout + time.Second)
		})
		fast := metricsServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `vllm:num_requests_running{m="x"} 1.0`)
		})

		start := time.Now()
		results := p.PollAll(context.Background(), []int{slow, fast})
		elapsed := time.Since(start)

		assert.False(t, results[0].Reachable)
		assert.True(t, results[1].Reachable)
		assert.Less(t, elapsed, scrapeTimeout+time.Second, "slow scrape should be bounded by its own timeout")
	})
}
