// Package statistics rewrites a graph so the calibration statistics that
// range estimation needs can be read from graph outputs.
package statistics

import (
	"cmp"
	"fmt"

	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/quant"
)

// Statistic types that can be reduced inside the graph.
const (
	Min    = "min"
	Max    = "max"
	Mean   = "mean"
	AbsMax = "abs_max"
)

// Reducible reports whether typ can be computed by an in-graph reduction.
func Reducible(typ string) bool {
	switch typ {
	case Min, Max, Mean, AbsMax:
		return true
	}
	return false
}

// Statistic is one value to observe on a node. Statistics are compared by
// value and used as map keys.
type Statistic struct {
	Type        string            `json:"type"`
	Granularity quant.Granularity `json:"granularity"`
	// Axis is the channel axis for per-channel means. Zero selects axis 1.
	Axis    int  `json:"axis,omitempty"`
	Inplace bool `json:"inplace_statistics"`
	// LayerStatName is the output the driver reads the value from, set once
	// the statistic has been placed.
	LayerStatName string `json:"layer_stat_name,omitempty"`
}

func (s Statistic) String() string {
	if s.LayerStatName != "" {
		return fmt.Sprintf("%s/%s@%s", s.Type, s.Granularity, s.LayerStatName)
	}
	return fmt.Sprintf("%s/%s", s.Type, s.Granularity)
}

func (s Statistic) channelAxis() int {
	if s.Type == Mean && s.Axis > 0 {
		return s.Axis
	}
	return 1
}

func compareStatistics(a, b Statistic) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Granularity, b.Granularity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Axis, b.Axis); c != 0 {
		return c
	}
	if a.Inplace != b.Inplace {
		if a.Inplace {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.LayerStatName, b.LayerStatName)
}

// Layout maps an observed node name to the statistics requested on it.
type Layout map[string][]Statistic

// Aliases maps an algorithm name to the node names it observes, and each of
// its statistics on that node to the name the algorithm knows it by.
type Aliases map[string]map[string]map[Statistic]string

func (l Layout) replace(node string, old, updated Statistic) {
	stats := l[node]
	out := stats[:0]
	for _, s := range stats {
		if s != old && s != updated {
			out = append(out, s)
		}
	}
	l[node] = append(out, updated)
}

// move merges the statistics of from into to.
func (l Layout) move(from, to string) {
	stats, ok := l[from]
	if !ok {
		return
	}
	delete(l, from)
	for _, s := range stats {
		if !lo.Contains(l[to], s) {
			l[to] = append(l[to], s)
		}
	}
}
