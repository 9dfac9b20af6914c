package monitor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/evalops/vllm-fleet/internal/stats"
)

// StatusView is one rendered snapshot of the deployment.
type StatusView struct {
	Workers   []WorkerStatus
	LogDir    string
	ProxyAddr string
}

type WorkerStatus struct {
	Port  int
	Down  bool
	Stats stats.WorkerStats
}

// Renderer presents a status snapshot. Rendering is a pure presentation side
// effect, kept separate from polling and liveness so tests can capture views
// instead of terminal output.
type Renderer interface {
	Render(view StatusView)
}

// TableRenderer clears the terminal and draws the worker status grid.
type TableRenderer struct {
	out io.Writer
}

func NewTableRenderer(out io.Writer) *TableRenderer {
	return &TableRenderer{out: out}
}

func (r *TableRenderer) Render(v StatusView) {
	// Clear screen and move cursor to top
	fmt.Fprint(r.out, "\033[2J\033[H")
	fmt.Fprintln(r.out, strings.Repeat("=", 60))
	fmt.Fprintln(r.out, "vLLM Worker Stats (Press Ctrl+C to stop)")
	fmt.Fprintln(r.out, strings.Repeat("=", 60))

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Port", "Current Processing", "Total Processed"})
	for _, w := range v.Workers {
		table.Append([]string{strconv.Itoa(w.Port), cell(w, w.Stats.Running), cell(w, w.Stats.Succeeded)})
	}
	table.Render()

	fmt.Fprintf(r.out, "\nLogs directory: %s\n", v.LogDir)
	fmt.Fprintf(r.out, "Load balancer: %s\n", v.ProxyAddr)
}

func cell(w WorkerStatus, value int) string {
	switch {
	case w.Down:
		return "down"
	case !w.Stats.Reachable:
		return "-"
	default:
		return strconv.Itoa(value)
	}
}
