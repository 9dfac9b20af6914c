package stats

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	runningMetric   = "vllm:num_requests_running{"
	succeededMetric = "vllm:request_success_total{"

	scrapeTimeout = 2 * time.Second
)

// WorkerStats is one scrape of one worker's metrics endpoint. Reachable
// false means the endpoint could not be scraped this cycle and both counters
// are unknown. A reachable endpoint that has not emitted a counter line yet
// reports zero instead; the two conditions are deliberately distinct.
type WorkerStats struct {
	Port      int
	Running   int
	Succeeded int
	Reachable bool
}

// Poller scrapes worker metrics endpoints. Every failure mode degrades to an
// unreachable result; a poll never returns an error.
type Poller struct {
	client *http.Client
	logger *zap.Logger
}

func NewPoller(logger *zap.Logger) *Poller {
	return &Poller{
		client: &http.Client{
			Timeout:   scrapeTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.Named("stats"),
	}
}

// Poll scrapes one worker. A slow or hung endpoint costs at most the client
// timeout.
func (p *Poller) Poll(ctx context.Context, port int) WorkerStats {
	log := p.logger.Sugar()
	st := WorkerStats{Port: port}

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st
	}
	resp, err := p.client.Do(req)
	if err != nil {
		log.Debugw("metrics scrape failed", "port", port, "error", err)
		return st
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debugw("metrics scrape non-200", "port", port, "status", resp.StatusCode)
		return st
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var dst *int
		switch {
		case strings.HasPrefix(line, runningMetric):
			dst = &st.Running
		case strings.HasPrefix(line, succeededMetric):
			dst = &st.Succeeded
		default:
			continue
		}
		v, err := lastToken(line)
		if err != nil {
			log.Debugw("malformed metric line", "port", port, "line", line)
			return WorkerStats{Port: port}
		}
		*dst = v
	}
	if err := scanner.Err(); err != nil {
		return WorkerStats{Port: port}
	}

	st.Reachable = true
	return st
}

// PollAll scrapes every port concurrently so a hung endpoint only delays its
// own slot. Results come back in input order.
func (p *Poller) PollAll(ctx context.Context, ports []int) []WorkerStats {
	results := make([]WorkerStats, len(ports))
	var g errgroup.Group
	for i, port := range ports {
		g.Go(func() error {
			results[i] = p.Poll(ctx, port)
			return nil
		})
	}
	_ = g.Wait() // Poll never errors
	return results
}

// lastToken parses the final whitespace-separated field of a metric line as
// a float and truncates it.
func lastToken(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty metric line")
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
