package statistics

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/quant"
)

var ErrUnsupportedStatistic = errors.New("statistics: statistic cannot be reduced in graph")

// preFQInput marks a request for the value entering a quantization point.
// The observed node is the one named without it.
const preFQInput = "/pre_fq_input"

// OutputExposer makes the output of a node nested inside bodies visible as
// an output of the top-level graph and returns the name it is read by.
type OutputExposer interface {
	ExposeOutput(path []string) (string, error)
}

// Result lists the nodes whose raw outputs the driver must observe, and maps
// every output exposed from a nested body back to the node it observes.
type Result struct {
	Nodes        []string          `json:"nodes"`
	OutputToNode map[string]string `json:"output_to_node"`
}

type reduceKey struct {
	g           *graph.Graph
	node        graph.NodeID
	typ         string
	granularity quant.Granularity
	axis        int
}

type placement struct {
	name     string
	fallback bool
}

// Injector places statistics on one graph. It remembers what it has placed,
// so later requests for the same statistic on the same node reuse the
// existing reduction and exposed output.
type Injector struct {
	g       *graph.Graph
	exposer OutputExposer
	log     logger.Logger

	placed       map[reduceKey]placement
	nodes        []string
	outputToNode map[string]string
	nodeToOutput map[string]string
}

func NewInjector(g *graph.Graph, log logger.Logger) *Injector {
	root := g.Root()
	return &Injector{
		g:            root,
		exposer:      root,
		log:          log.WithGroup("statistics"),
		placed:       make(map[reduceKey]placement),
		outputToNode: make(map[string]string),
		nodeToOutput: make(map[string]string),
	}
}

// Insert is a one-shot Injector run.
func Insert(g *graph.Graph, layout Layout, aliases Aliases, log logger.Logger) (Result, error) {
	return NewInjector(g, log).Insert(layout, aliases)
}

// Insert adds the reductions for every in-place statistic in aliases and
// rewrites layout and aliases in place: each placed statistic records the
// output it is read from, and nodes observed inside nested bodies move to
// the name of their exposed output. Algorithms, nodes and statistics are
// processed in sorted order.
func (in *Injector) Insert(layout Layout, aliases Aliases) (Result, error) {
	if aliases == nil {
		nodes := lo.Keys(layout)
		slices.Sort(nodes)
		return Result{Nodes: nodes, OutputToNode: map[string]string{}}, nil
	}
	algos := lo.Keys(aliases)
	slices.Sort(algos)
	for _, algo := range algos {
		nodes := lo.Keys(aliases[algo])
		slices.Sort(nodes)
		for _, node := range nodes {
			if err := in.insertNode(layout, aliases, algo, node); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{Nodes: slices.Clone(in.nodes), OutputToNode: maps.Clone(in.outputToNode)}, nil
}

func (in *Injector) insertNode(layout Layout, aliases Aliases, algo, nodeName string) error {
	name := strings.ReplaceAll(nodeName, preFQInput, "")
	owner, node, err := in.g.Lookup(name)
	if err != nil {
		return fmt.Errorf("statistics: %s: %w", algo, err)
	}

	stats := aliases[algo][nodeName]
	keys := lo.Keys(stats)
	slices.SortFunc(keys, compareStatistics)
	for _, stat := range keys {
		if !stat.Inplace {
			in.observe(name)
			continue
		}
		updated, err := in.place(owner, node, name, stat)
		if err != nil {
			return fmt.Errorf("statistics: %s: %s: %w", algo, name, err)
		}
		layout.replace(nodeName, stat, updated)
		alias := stats[stat]
		delete(stats, stat)
		stats[updated] = alias
	}

	if owner == in.g {
		return nil
	}
	in.nodes = slices.DeleteFunc(in.nodes, func(n string) bool { return n == name })
	result, ok := in.nodeToOutput[name]
	if !ok {
		result, err = in.exposer.ExposeOutput(strings.Split(name, graph.Separator))
		if err != nil {
			return fmt.Errorf("statistics: expose %s: %w", name, err)
		}
		in.outputToNode[result] = name
		in.nodeToOutput[name] = result
		in.log.Debug("exposed nested node", logger.KeyNode, name, "output", result)
	}

	// Fallbacks point at the nested node itself; the driver reads it
	// through the exposed output.
	for stat, alias := range maps.Clone(stats) {
		if stat.LayerStatName != name {
			continue
		}
		exposed := stat
		exposed.LayerStatName = result
		layout.replace(nodeName, stat, exposed)
		delete(stats, stat)
		stats[exposed] = alias
	}

	layout.move(nodeName, result)
	moved := aliases[algo][nodeName]
	delete(aliases[algo], nodeName)
	dst := aliases[algo][result]
	if dst == nil {
		dst = make(map[Statistic]string, len(moved))
		aliases[algo][result] = dst
	}
	maps.Copy(dst, moved)
	return nil
}

func (in *Injector) observe(name string) {
	if !slices.Contains(in.nodes, name) {
		in.nodes = append(in.nodes, name)
	}
}

// place adds the reduction computing stat on node, or reuses one placed
// earlier, and returns stat pointing at the output to read.
func (in *Injector) place(owner *graph.Graph, node *graph.Node, name string, stat Statistic) (Statistic, error) {
	key := reduceKey{g: owner, node: node.ID, typ: stat.Type, granularity: stat.Granularity, axis: stat.channelAxis()}
	p, ok := in.placed[key]
	if !ok {
		var err error
		p, err = in.insert(owner, node, name, stat)
		if err != nil {
			return Statistic{}, err
		}
		in.placed[key] = p
	}
	if p.fallback {
		in.observe(name)
		stat.Inplace = false
	}
	stat.LayerStatName = p.name
	return stat, nil
}

func (in *Injector) insert(owner *graph.Graph, node *graph.Node, name string, stat Statistic) (placement, error) {
	var kind graph.OpKind
	switch stat.Type {
	case Min:
		kind = graph.OpReduceMin
	case Max, AbsMax:
		kind = graph.OpReduceMax
	case Mean:
		kind = graph.OpReduceMean
	default:
		return placement{}, fmt.Errorf("%w: %q", ErrUnsupportedStatistic, stat.Type)
	}

	axes, ok := FindAxis(graph.OutputShape(node, 0), stat.Granularity, stat.channelAxis())
	if !ok {
		in.log.Warn("cannot select reduction axes, observing the node output instead",
			logger.KeyNode, name,
			logger.KeyStatistic, stat.String(),
			"shape", graph.OutputShape(node, 0).String(),
			logger.KeyErrorKind, logger.KindStatFallback)
		return placement{name: name, fallback: true}, nil
	}

	src := node
	if stat.Type == AbsMax {
		abs, err := addAbs(owner, node)
		if err != nil {
			return placement{}, err
		}
		src = abs
	}
	reduce, err := addReduce(owner, src, kind, axes, uniqueName(owner, stat.Type+"_"+node.Name))
	if err != nil {
		return placement{}, err
	}

	if owner == in.g {
		res, err := owner.AddNode(graph.NodeSpec{Name: "Result_" + reduce.Name, Kind: graph.OpResult})
		if err != nil {
			return placement{}, err
		}
		if err := owner.Connect(reduce.ID, 0, res, 0); err != nil {
			return placement{}, err
		}
		return placement{name: reduce.Name}, nil
	}
	out, err := in.exposer.ExposeOutput(strings.Split(owner.FullName(reduce), graph.Separator))
	if err != nil {
		return placement{}, fmt.Errorf("expose %s: %w", owner.FullName(reduce), err)
	}
	return placement{name: out}, nil
}

// FindAxis returns the axes a reduction must cover: every axis for
// per-tensor statistics, every axis except the batch axis and channel for
// per-channel ones. It reports false when a per-channel reduction is
// undefined, which is the case for tensors of rank below 3.
func FindAxis(shape graph.Shape, g quant.Granularity, channel int) ([]int64, bool) {
	rank := shape.Rank()
	if g == quant.PerChannel && (rank < 3 || channel <= 0 || channel >= rank) {
		return nil, false
	}
	axes := make([]int64, 0, rank)
	for i := range rank {
		if g == quant.PerChannel && (i == 0 || i == channel) {
			continue
		}
		axes = append(axes, int64(i))
	}
	return axes, true
}

func addAbs(g *graph.Graph, node *graph.Node) (*graph.Node, error) {
	id, err := g.AddNode(graph.NodeSpec{
		Name:    uniqueName(g, "abs_"+node.Name),
		Kind:    graph.OpAbs,
		Outputs: []graph.Output{{Type: graph.OutputType(node), Shape: graph.OutputShape(node, 0)}},
	})
	if err != nil {
		return nil, err
	}
	if err := g.Connect(node.ID, 0, id, 0); err != nil {
		return nil, err
	}
	return g.Node(id), nil
}

// addReduce adds a reduction of output 0 of src over axes, fed by a constant
// holding the axes.
func addReduce(g *graph.Graph, src *graph.Node, kind graph.OpKind, axes []int64, name string) (*graph.Node, error) {
	axesID, err := g.AddNode(graph.NodeSpec{
		Name:    name + "/axes",
		Kind:    graph.OpConst,
		Outputs: []graph.Output{{Type: graph.I64, Shape: graph.Shape{int64(len(axes))}}},
		Value:   axes,
	})
	if err != nil {
		return nil, err
	}
	id, err := g.AddNode(graph.NodeSpec{
		Name:    name,
		Kind:    kind,
		Outputs: []graph.Output{{Type: graph.OutputType(src), Shape: reducedShape(graph.OutputShape(src, 0), axes)}},
	})
	if err != nil {
		return nil, err
	}
	if err := g.Connect(src.ID, 0, id, 0); err != nil {
		return nil, err
	}
	if err := g.Connect(axesID, 0, id, 1); err != nil {
		return nil, err
	}
	return g.Node(id), nil
}

func reducedShape(s graph.Shape, axes []int64) graph.Shape {
	out := graph.Shape{}
	for i, d := range s {
		if !slices.Contains(axes, int64(i)) {
			out = append(out, d)
		}
	}
	return out
}

// uniqueName returns base, or base with the first free numeric suffix, such
// that neither the name nor the nodes derived from it exist in g.
func uniqueName(g *graph.Graph, base string) string {
	taken := func(n string) bool {
		for _, c := range []string{n, n + "/axes", "Result_" + n} {
			if _, ok := g.NodeByName(c); ok {
				return true
			}
		}
		return false
	}
	name := base
	for i := 1; taken(name); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}
