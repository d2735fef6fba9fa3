package statistics

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/preset"
	"github.com/samcharles93/quantcfg/internal/quant"
)

// RangeEstimation is the algorithm name under which RequestsFor files its
// requests.
const RangeEstimation = "range_estimation"

// RequestsFor derives the statistics the range estimators of the resolved
// activation points need. Each point observes the value entering it; points
// sharing an input share the request. Estimators that cannot be reduced in
// the graph, or all of them when inplace is false, are requested as raw
// observations.
func RequestsFor(g *graph.Graph, resolved map[string]preset.Resolved, inplace bool) (Layout, Aliases, error) {
	layout := make(Layout)
	byNode := make(map[string]map[Statistic]string)

	names := lo.Keys(resolved)
	slices.Sort(names)
	for _, name := range names {
		r := resolved[name]
		if r.Kind != quant.Activations {
			continue
		}
		owner, fq, err := g.Lookup(name)
		if err != nil {
			return nil, nil, fmt.Errorf("statistics: request for %s: %w", name, err)
		}
		producer := owner.Producer(fq, 0)
		if producer == nil {
			return nil, nil, fmt.Errorf("statistics: %w: %s input 0", graph.ErrDanglingPort, name)
		}
		node := owner.FullName(producer) + preFQInput

		for _, end := range []struct {
			role string
			est  *preset.Estimator
		}{{"min", r.RangeEstimator.Min}, {"max", r.RangeEstimator.Max}} {
			if end.est == nil {
				continue
			}
			stat := Statistic{
				Type:        end.est.Type,
				Granularity: r.Candidate.Granularity,
				Inplace:     inplace && Reducible(end.est.Type),
			}
			if !lo.Contains(layout[node], stat) {
				layout[node] = append(layout[node], stat)
			}
			if byNode[node] == nil {
				byNode[node] = make(map[Statistic]string)
			}
			byNode[node][stat] = end.role
		}
	}
	return layout, Aliases{RangeEstimation: byNode}, nil
}
