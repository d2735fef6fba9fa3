// Package preset picks one configuration per quantization point from the
// candidates the hardware allows, following an accuracy, mixed or
// performance policy.
package preset

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/quant"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
	"github.com/samcharles93/quantcfg/internal/unify"
)

// Catalog is the part of the hardware catalog the resolver consults.
type Catalog interface {
	unify.Catalog
	Configs(opType string, qkind quant.Kind) ([]quant.Candidate, bool)
}

// Contribution is the candidate list one consumer of a quantization point
// allows.
type Contribution struct {
	Layer      string            `json:"layer"`
	Candidates []quant.Candidate `json:"candidates"`
}

// PointConfigs are the candidate lists gathered for one quantization point.
type PointConfigs struct {
	Kind    quant.Kind     `json:"kind"`
	ByLayer []Contribution `json:"by_layer"`
}

// Layers returns the names of the contributing consumers.
func (p PointConfigs) Layers() []string {
	return lo.Map(p.ByLayer, func(c Contribution, _ int) string { return c.Layer })
}

// Configurations maps a quantization point's full name to its candidates.
type Configurations map[string]PointConfigs

// ReadAllConfigurations collects, for every quantization point of g and of
// its nested bodies, the candidates each quantizable consumer allows under
// the tool constraints. Consumers are found breadth first through
// quantize-agnostic operations.
func ReadAllConfigurations(g *graph.Graph, cat Catalog, cfg toolconfig.Config, log logger.Logger) (Configurations, error) {
	constraints := make(map[quant.Kind]quant.Constraint, 2)
	for _, kind := range []quant.Kind{quant.Weights, quant.Activations} {
		c, err := cfg.Constraint(kind)
		if err != nil {
			return nil, err
		}
		constraints[kind] = c
	}

	out := make(Configurations)
	err := g.Walk(func(owner *graph.Graph, n *graph.Node) error {
		if n.Kind != graph.OpFakeQuantize {
			return nil
		}
		name := owner.FullName(n)
		kind := quant.Activations
		if p := owner.Producer(n, 0); p != nil && p.Kind == graph.OpConst {
			kind = quant.Weights
		}
		pc := PointConfigs{Kind: kind}
		for _, child := range valuableDescendants(owner, n, cat) {
			list, ok := cat.Configs(child.TypeName(), kind)
			if !ok {
				continue
			}
			constraint := constraints[kind]
			confs := constraint.Filter(list)
			if len(confs) == 0 {
				log.Warn("quantization point does not support the configured parameters, falling back to them",
					logger.KeyNode, name,
					logger.KeyOp, child.TypeName(),
					logger.KeyKind, kind.String(),
					logger.KeyErrorKind, logger.KindConfigMismatch)
				confs = []quant.Candidate{constraint.Candidate()}
			}
			pc.ByLayer = append(pc.ByLayer, Contribution{Layer: owner.FullName(child), Candidates: confs})
		}
		out[name] = pc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("preset: read configurations: %w", err)
	}
	return out, nil
}

// valuableDescendants returns the consumers of fq that make a quantization
// decision of their own, looking through quantize-agnostic operations.
func valuableDescendants(g *graph.Graph, fq *graph.Node, cat Catalog) []*graph.Node {
	var out []*graph.Node
	seen := map[graph.NodeID]bool{fq.ID: true}
	queue := []*graph.Node{fq}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range g.Consumers(cur) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			if cat.IsQuantizeAgnostic(child.TypeName()) {
				queue = append(queue, child)
				continue
			}
			out = append(out, child)
		}
	}
	return out
}
