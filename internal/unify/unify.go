// Package unify finds the quantization points whose activation
// configurations must be identical because the hardware requires unified
// scales on the operation joining them.
package unify

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/logger"
)

var ErrOverlappingGroups = errors.New("unify: quantization point belongs to more than one group")

// Catalog is the part of the hardware catalog the unifier consults.
type Catalog interface {
	IsUnifiedScale(opType string) bool
	IsQuantizeAgnostic(opType string) bool
	UnifiedScaleOps() []string
}

// Group is a set of quantization points sharing one activation
// configuration, together with the operations bridging them. Both lists
// hold full node names in ascending order.
type Group struct {
	Bridges []string `json:"bridges"`
	FQs     []string `json:"fake_quantizes"`
}

// Name identifies the group in diagnostics.
func (g Group) Name() string {
	return strings.Join(g.Bridges, ",")
}

type ref struct {
	g *graph.Graph
	n *graph.Node
}

func (r ref) fullName() string { return r.g.FullName(r.n) }

type unifier struct {
	cat     Catalog
	log     logger.Logger
	visited map[string]bool
	concat  map[string]bool
}

// FindFQsToUnify returns the unification groups of g and of every nested
// body, sorted so identical graphs always give identical output.
func FindFQsToUnify(g *graph.Graph, cat Catalog, log logger.Logger) ([]Group, error) {
	if len(cat.UnifiedScaleOps()) == 0 {
		return nil, nil
	}
	u := &unifier{
		cat:     cat,
		log:     log.WithGroup("unify"),
		visited: make(map[string]bool),
		concat:  make(map[string]bool),
	}

	var groups []Group
	err := g.Walk(func(owner *graph.Graph, n *graph.Node) error {
		start := ref{g: owner, n: n}
		if n.Kind != graph.OpFakeQuantize || u.visited[start.fullName()] || weightsFQ(owner, n) {
			return nil
		}
		if grp, ok := u.collect(start); ok {
			groups = append(groups, grp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := checkExclusive(groups); err != nil {
		return nil, err
	}

	slices.SortFunc(groups, func(a, b Group) int {
		if c := slices.Compare(a.Bridges, b.Bridges); c != 0 {
			return c
		}
		return slices.Compare(a.FQs, b.FQs)
	})
	for _, grp := range groups {
		u.log.Debug("scales to unify", "bridges", grp.Bridges, "fake_quantizes", grp.FQs)
	}
	return groups, nil
}

// collect runs one traversal from start and reports whether the points it
// reached form a group.
func (u *unifier) collect(start ref) (Group, bool) {
	var grp Group
	var bridges []ref
	stack := []ref{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		name := cur.fullName()
		if u.visited[name] {
			continue
		}
		u.visited[name] = true

		switch {
		case u.isUnifiedScale(cur) || cur.n.Kind.Traits().Branching:
			if !hasConstInput(cur) {
				grp.Bridges = append(grp.Bridges, name)
				bridges = append(bridges, cur)
			}
		case cur.n.Kind == graph.OpFakeQuantize && !weightsFQ(cur.g, cur.n):
			grp.FQs = append(grp.FQs, name)
		}
		stack = u.expand(cur, stack)
	}

	if len(grp.Bridges) == 0 || len(grp.FQs) < 2 {
		return Group{}, false
	}
	if !slices.ContainsFunc(bridges, u.isUnifiedScale) {
		return Group{}, false
	}
	slices.Sort(grp.Bridges)
	slices.Sort(grp.FQs)
	return grp, true
}

func (u *unifier) expand(cur ref, stack []ref) []ref {
	isFQ := cur.n.Kind == graph.OpFakeQuantize
	if isFQ || u.cat.IsQuantizeAgnostic(cur.n.TypeName()) {
		for _, child := range cur.g.Consumers(cur.n) {
			c := ref{g: cur.g, n: child}
			if u.visited[c.fullName()] || !dataType(c).Quantizable() {
				continue
			}
			if child.Kind == graph.OpFakeQuantize || u.cat.IsQuantizeAgnostic(child.TypeName()) || u.isUnifiedScale(c) {
				stack = append(stack, c)
			}
		}
	}
	if !isFQ {
		for _, parent := range cur.g.Producers(cur.n) {
			p := ref{g: cur.g, n: parent}
			if u.visited[p.fullName()] || !dataType(p).Quantizable() {
				continue
			}
			if parent.Kind == graph.OpFakeQuantize || u.cat.IsQuantizeAgnostic(parent.TypeName()) {
				stack = append(stack, p)
			}
		}
	}
	return stack
}

// isUnifiedScale reports whether the hardware requires unified scales on r,
// including the extra topology check for branching operations.
func (u *unifier) isUnifiedScale(r ref) bool {
	if !u.cat.IsUnifiedScale(r.n.TypeName()) {
		return false
	}
	if !r.n.Kind.Traits().Branching {
		return true
	}
	name := r.fullName()
	if res, ok := u.concat[name]; ok {
		return res
	}
	res := u.concatCondition(r)
	u.concat[name] = res
	return res
}

// concatCondition holds when every input of the concatenation is a
// quantization point or a pass-through op, and a convolution-like consumer
// is reachable through pass-through ops.
func (u *unifier) concatCondition(r ref) bool {
	u.log.Debug("checking branching node", logger.KeyNode, r.fullName(), logger.KeyOp, r.n.TypeName())
	for _, in := range r.g.Producers(r.n) {
		if !in.Kind.Traits().UnifyInput && !u.cat.IsQuantizeAgnostic(in.TypeName()) {
			u.log.Debug("concatenation input is not quantized, scales stay independent",
				logger.KeyNode, r.fullName(), "input", in.Name)
			return false
		}
	}

	seen := make(map[graph.NodeID]bool)
	stack := r.g.Consumers(r.n)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		switch {
		case n.Kind.Traits().UnifyOutput:
			u.log.Debug("found consumer requiring unified inputs",
				logger.KeyNode, r.fullName(), "consumer", n.Name, logger.KeyOp, n.TypeName())
			return true
		case u.cat.IsQuantizeAgnostic(n.TypeName()):
			stack = append(stack, r.g.Consumers(n)...)
		}
	}
	return false
}

func checkExclusive(groups []Group) error {
	owner := make(map[string]int)
	for i, grp := range groups {
		for _, fq := range grp.FQs {
			if j, ok := owner[fq]; ok && j != i {
				return fmt.Errorf("%w: %s in groups [%s] and [%s]", ErrOverlappingGroups, fq, groups[j].Name(), grp.Name())
			}
			owner[fq] = i
		}
	}
	return nil
}

// weightsFQ reports whether the data input of a quantization point is a constant.
func weightsFQ(g *graph.Graph, n *graph.Node) bool {
	p := g.Producer(n, 0)
	return p != nil && p.Kind == graph.OpConst
}

func hasConstInput(r ref) bool {
	for _, p := range r.g.Producers(r.n) {
		if p.Kind == graph.OpConst {
			return true
		}
	}
	return false
}

// dataType is the element type a node produces, or consumes when it has no
// outputs.
func dataType(r ref) graph.ElementType {
	if len(r.n.Outputs) > 0 {
		return r.n.Outputs[0].Type
	}
	return r.g.InputType(r.n, 0)
}
