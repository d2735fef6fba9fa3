package preset

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/quant"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
	"github.com/samcharles93/quantcfg/internal/unify"
)

// Resolved is the final configuration of one quantization point.
type Resolved struct {
	Kind           quant.Kind      `json:"kind"`
	Candidate      quant.Candidate `json:"candidate"`
	RangeEstimator RangeEstimator  `json:"range_estimator"`
	Group          string          `json:"group,omitempty"`
}

// Pick applies the preset rule to an ordered candidate list: weights take
// the last candidate under accuracy and the first otherwise, activations
// take the first under performance and the last otherwise.
func Pick(p toolconfig.Preset, kind quant.Kind, list []quant.Candidate) quant.Candidate {
	if kind == quant.Weights {
		if p == toolconfig.Accuracy {
			return list[len(list)-1]
		}
		return list[0]
	}
	if p == toolconfig.Performance {
		return list[0]
	}
	return list[len(list)-1]
}

// Resolve picks one candidate per quantization point. Activation points in
// a unification group are resolved together from the intersection of the
// members' lists, and all of them receive the same candidate.
func Resolve(p toolconfig.Preset, g *graph.Graph, confs Configurations, groups []unify.Group, cfg toolconfig.Config, log logger.Logger) (map[string]Resolved, error) {
	if !slices.Contains(toolconfig.Presets, p) {
		return nil, fmt.Errorf("%w: %q, supported values are %v", ErrUnsupportedPreset, p, toolconfig.Presets)
	}
	log = log.WithGroup("preset")

	grouped := make(map[string]string)
	for _, grp := range groups {
		for _, fq := range grp.FQs {
			grouped[fq] = grp.Name()
		}
	}

	out := make(map[string]Resolved, len(confs))
	deferred := make(map[string][]quant.Candidate)
	names := lo.Keys(confs)
	slices.Sort(names)
	for _, name := range names {
		pc := confs[name]
		lists := lo.Map(pc.ByLayer, func(c Contribution, _ int) []quant.Candidate { return c.Candidates })
		res := quant.IntersectAll(lists...)
		if len(res) == 0 {
			return nil, &ResolutionError{Err: ErrEmptyConfiguration, Nodes: []string{name}, Layers: pc.Layers()}
		}
		if _, ok := grouped[name]; ok && pc.Kind == quant.Activations {
			deferred[name] = res
			continue
		}
		out[name] = resolved(pc.Kind, Pick(p, pc.Kind, res), cfg)
		log.Debug("resolved", logger.KeyNode, name, logger.KeyKind, pc.Kind.String(), "candidate", out[name].Candidate.String())
	}

	for _, grp := range groups {
		ambiguous, err := ambiguousLayout(g, grp)
		if err != nil {
			return nil, err
		}
		var res []quant.Candidate
		for i, fq := range grp.FQs {
			list, ok := deferred[fq]
			if !ok {
				return nil, &ResolutionError{Err: ErrEmptyConfiguration, Nodes: []string{fq}, Group: grp.Name()}
			}
			if ambiguous {
				list = quant.PerTensorOnly(list)
			}
			if i == 0 {
				res = list
				continue
			}
			res = quant.Intersect(res, list)
		}
		if len(res) == 0 {
			return nil, &ResolutionError{Err: ErrCannotUnify, Nodes: slices.Clone(grp.FQs), Group: grp.Name()}
		}
		cand := Pick(p, quant.Activations, res)
		for _, fq := range grp.FQs {
			r := resolved(quant.Activations, cand, cfg)
			r.Group = grp.Name()
			out[fq] = r
		}
		log.Debug("resolved group", logger.KeyGroup, grp.Name(), "per_tensor_only", ambiguous, "candidate", cand.String())
	}
	return out, nil
}

func resolved(kind quant.Kind, c quant.Candidate, cfg toolconfig.Config) Resolved {
	return Resolved{
		Kind:           kind,
		Candidate:      c,
		RangeEstimator: RangeEstimatorFor(cfg, kind, c.Granularity, c.Mode),
	}
}

// ambiguousLayout reports whether the channel axis of a group cannot be
// trusted: a bridge is a concatenation, the points disagree on batch or
// channel dimensions, or a bridge broadcasts one of its inputs. Such groups
// are restricted to per-tensor candidates.
func ambiguousLayout(g *graph.Graph, grp unify.Group) (bool, error) {
	withConcat := false
	var bridgeShapes []graph.Shape
	for _, b := range grp.Bridges {
		owner, n, err := g.Lookup(b)
		if err != nil {
			return false, fmt.Errorf("preset: group [%s]: %w", grp.Name(), err)
		}
		if n.Kind.Traits().Branching {
			withConcat = true
		}
		for i := range n.Inputs {
			bridgeShapes = append(bridgeShapes, owner.InputShape(n, i))
		}
	}
	var fqShapes []graph.Shape
	for _, fq := range grp.FQs {
		owner, n, err := g.Lookup(fq)
		if err != nil {
			return false, fmt.Errorf("preset: group [%s]: %w", grp.Name(), err)
		}
		fqShapes = append(fqShapes, owner.InputShape(n, 0))
	}
	return withConcat || mismatchedLayout(fqShapes) || mismatchedLayout(bridgeShapes), nil
}

// mismatchedLayout reports whether any shape differs from the first in its
// batch or channel dimension, or has no channel dimension at all.
func mismatchedLayout(shapes []graph.Shape) bool {
	if len(shapes) == 0 {
		return false
	}
	first := shapes[0]
	return slices.ContainsFunc(shapes, func(s graph.Shape) bool {
		return len(s) < 2 || len(first) < 2 || s[0] != first[0] || s[1] != first[1]
	})
}
