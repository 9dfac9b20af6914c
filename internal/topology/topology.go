package topology

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyGroup = errors.New("empty GPU group")

// Placement assigns one worker a GPU set and a listen port. Placements are
// immutable once planned; the worker pool is sized exactly to them.
type Placement struct {
	Index int
	GPUs  string // comma-separated device ids, e.g. "0,1"
	Port  int
}

// ParseGPUGroups expands a compact group spec like "01,23,45,67" into
// ["0,1", "2,3", "4,5", "6,7"]. Single-device tokens like "0,1,2,3" pass
// through as individual groups.
func ParseGPUGroups(spec string) ([]string, error) {
	tokens := strings.Split(spec, ",")
	groups := make([]string, 0, len(tokens))
	for i, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("%w: token %d of %q", ErrEmptyGroup, i, spec)
		}
		if len(token) > 1 && !strings.Contains(token, ",") {
			// Multi-digit like "01" or "23" -> "0,1" or "2,3"
			token = strings.Join(strings.Split(token, ""), ",")
		}
		groups = append(groups, token)
	}
	return groups, nil
}

// Plan turns a GPU group spec and a starting port into the fixed worker
// topology, one placement per group, ports assigned contiguously from
// startPort. Pure and deterministic.
func Plan(gpuSpec string, startPort int) ([]Placement, error) {
	groups, err := ParseGPUGroups(gpuSpec)
	if err != nil {
		return nil, err
	}
	placements := make([]Placement, len(groups))
	for i, g := range groups {
		placements[i] = Placement{Index: i, GPUs: g, Port: startPort + i}
	}
	return placements, nil
}

// Ports returns the listen ports of the placements in order.
func Ports(placements []Placement) []int {
	ports := make([]int, len(placements))
	for i, p := range placements {
		ports[i] = p.Port
	}
	return ports
}
