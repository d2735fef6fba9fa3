// Package graphtest builds small graphs for tests.
package graphtest

import (
	"testing"

	"github.com/samcharles93/quantcfg/internal/graph"
)

// Builder wraps a graph and fails the test on any construction error.
type Builder struct {
	t testing.TB
	G *graph.Graph
}

func New(t testing.TB, name string) *Builder {
	t.Helper()
	return &Builder{t: t, G: graph.New(name)}
}

// Op adds a node with one f32 output of the given shape. Result nodes get
// no outputs.
func (b *Builder) Op(name string, kind graph.OpKind, shape ...int64) *Builder {
	b.t.Helper()
	return b.Typed(name, kind, graph.F32, shape...)
}

// Typed is Op with an explicit element type.
func (b *Builder) Typed(name string, kind graph.OpKind, et graph.ElementType, shape ...int64) *Builder {
	b.t.Helper()
	spec := graph.NodeSpec{Name: name, Kind: kind}
	if kind != graph.OpResult {
		spec.Outputs = []graph.Output{{Type: et, Shape: graph.Shape(shape)}}
	}
	if _, err := b.G.AddNode(spec); err != nil {
		b.t.Fatalf("add %s: %v", name, err)
	}
	return b
}

// Opaque adds a node of a type the resolver does not know, with one f32
// output.
func (b *Builder) Opaque(name, typ string, shape ...int64) *Builder {
	b.t.Helper()
	spec := graph.NodeSpec{
		Name:       name,
		Kind:       graph.OpOpaque,
		OpaqueType: typ,
		Outputs:    []graph.Output{{Type: graph.F32, Shape: graph.Shape(shape)}},
	}
	if _, err := b.G.AddNode(spec); err != nil {
		b.t.Fatalf("add %s: %v", name, err)
	}
	return b
}

// Body adds a loop-like node owning body, with one f32 output.
func (b *Builder) Body(name string, kind graph.OpKind, body *graph.Graph, shape ...int64) *Builder {
	b.t.Helper()
	spec := graph.NodeSpec{
		Name:    name,
		Kind:    kind,
		Outputs: []graph.Output{{Type: graph.F32, Shape: graph.Shape(shape)}},
		Body:    body,
	}
	if _, err := b.G.AddNode(spec); err != nil {
		b.t.Fatalf("add %s: %v", name, err)
	}
	return b
}

// Connect wires output 0 of src to the first free input port of dst.
func (b *Builder) Connect(src, dst string) *Builder {
	b.t.Helper()
	s := b.node(src)
	d := b.node(dst)
	port := len(d.Inputs)
	for i, in := range d.Inputs {
		if in.Node == graph.InvalidNode {
			port = i
			break
		}
	}
	if err := b.G.Connect(s.ID, 0, d.ID, port); err != nil {
		b.t.Fatalf("connect %s -> %s: %v", src, dst, err)
	}
	return b
}

// Chain connects each node to the next.
func (b *Builder) Chain(names ...string) *Builder {
	b.t.Helper()
	for i := 1; i < len(names); i++ {
		b.Connect(names[i-1], names[i])
	}
	return b
}

// FQ adds a quantization point fed by input, with its four range constants.
func (b *Builder) FQ(name, input string) *Builder {
	b.t.Helper()
	in := b.node(input)
	b.Typed(name, graph.OpFakeQuantize, graph.OutputType(in), graph.OutputShape(in, 0)...)
	b.Connect(input, name)
	for _, suffix := range []string{"/input_low", "/input_high", "/output_low", "/output_high"} {
		b.Op(name+suffix, graph.OpConst)
		b.Connect(name+suffix, name)
	}
	return b
}

// Weights adds a constant and a quantization point on it.
func (b *Builder) Weights(name string, shape ...int64) *Builder {
	b.t.Helper()
	b.Op(name+"/const", graph.OpConst, shape...)
	return b.FQ(name, name+"/const")
}

func (b *Builder) Node(name string) *graph.Node {
	b.t.Helper()
	return b.node(name)
}

func (b *Builder) node(name string) *graph.Node {
	b.t.Helper()
	n, ok := b.G.NodeByName(name)
	if !ok {
		b.t.Fatalf("unknown node %s", name)
	}
	return n
}
