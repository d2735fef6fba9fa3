package graph

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// Document is the JSON form of a graph.
type Document struct {
	Name  string    `json:"name"`
	Nodes []NodeDoc `json:"nodes"`
	Edges []EdgeDoc `json:"edges,omitempty"`
}

type NodeDoc struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Outputs     []OutputDoc     `json:"outputs,omitempty"`
	Value       []int64         `json:"value,omitempty"`
	Body        *Document       `json:"body,omitempty"`
	BodyOutputs []BodyOutputDoc `json:"body_outputs,omitempty"`
}

type OutputDoc struct {
	Type  ElementType `json:"type"`
	Shape Shape       `json:"shape"`
}

type BodyOutputDoc struct {
	Port   int    `json:"port"`
	Result string `json:"result"`
}

type EdgeDoc struct {
	Src     string `json:"src"`
	SrcPort int    `json:"src_port,omitempty"`
	Dst     string `json:"dst"`
	DstPort int    `json:"dst_port,omitempty"`
}

// Decode reads a JSON graph document.
func Decode(r io.Reader) (*Graph, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}
	return FromDocument(doc)
}

func DecodeFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// FromDocument builds a graph and checks its structural consistency.
func FromDocument(doc Document) (*Graph, error) {
	g, err := build(doc)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func build(doc Document) (*Graph, error) {
	g := New(doc.Name)
	for _, nd := range doc.Nodes {
		spec := NodeSpec{Name: nd.Name, Kind: ParseOpKind(nd.Type), Value: nd.Value}
		if spec.Kind == OpOpaque {
			spec.OpaqueType = nd.Type
		}
		for _, o := range nd.Outputs {
			spec.Outputs = append(spec.Outputs, Output{Type: o.Type, Shape: o.Shape})
		}
		if nd.Body != nil {
			body, err := build(*nd.Body)
			if err != nil {
				return nil, fmt.Errorf("graph: body of %s: %w", nd.Name, err)
			}
			spec.Body = body
		}
		id, err := g.AddNode(spec)
		if err != nil {
			return nil, err
		}
		n := g.Node(id)
		for _, bo := range nd.BodyOutputs {
			if n.Body == nil {
				return nil, fmt.Errorf("graph: %s maps body outputs but has no body", nd.Name)
			}
			res, ok := n.Body.NodeByName(bo.Result)
			if !ok || res.Kind != OpResult {
				return nil, fmt.Errorf("%w: body result %s of %s", ErrUnknownNode, bo.Result, nd.Name)
			}
			n.BodyOutputs[bo.Port] = res.ID
		}
	}
	for _, e := range doc.Edges {
		src, ok := g.NodeByName(e.Src)
		if !ok {
			return nil, fmt.Errorf("%w: edge source %s", ErrUnknownNode, e.Src)
		}
		dst, ok := g.NodeByName(e.Dst)
		if !ok {
			return nil, fmt.Errorf("%w: edge destination %s", ErrUnknownNode, e.Dst)
		}
		if err := g.Connect(src.ID, e.SrcPort, dst.ID, e.DstPort); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Document converts g back to its JSON form. Edges are ordered by
// destination node and port so the output is stable.
func (g *Graph) Document() Document {
	doc := Document{Name: g.name}
	for _, n := range g.nodes {
		nd := NodeDoc{Name: n.Name, Type: n.TypeName(), Value: n.Value}
		for _, o := range n.Outputs {
			nd.Outputs = append(nd.Outputs, OutputDoc{Type: o.Type, Shape: o.Shape})
		}
		if n.Body != nil {
			body := n.Body.Document()
			nd.Body = &body
			ports := make([]int, 0, len(n.BodyOutputs))
			for p := range n.BodyOutputs {
				ports = append(ports, p)
			}
			sort.Ints(ports)
			for _, p := range ports {
				nd.BodyOutputs = append(nd.BodyOutputs, BodyOutputDoc{Port: p, Result: n.Body.Node(n.BodyOutputs[p]).Name})
			}
		}
		doc.Nodes = append(doc.Nodes, nd)
		for port, in := range n.Inputs {
			if src := g.Node(in.Node); src != nil {
				doc.Edges = append(doc.Edges, EdgeDoc{Src: src.Name, SrcPort: in.Port, Dst: n.Name, DstPort: port})
			}
		}
	}
	return doc
}

// Encode writes g as indented JSON.
func (g *Graph) Encode(w io.Writer) error {
	b, err := json.MarshalIndent(g.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
