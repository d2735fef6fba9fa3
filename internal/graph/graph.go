// Package graph is the in-memory intermediate representation the resolver
// works on: an arena of nodes addressed by NodeID, with nested bodies for
// loop-like operations.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins node names along the path from the top-level graph into
// nested bodies.
const Separator = "|"

// InvalidNode marks an input port with no producer.
const InvalidNode NodeID = -1

var (
	ErrUnknownNode   = errors.New("graph: unknown node")
	ErrDuplicateNode = errors.New("graph: duplicate node name")
	ErrDanglingPort  = errors.New("graph: dangling port")
	ErrBadPort       = errors.New("graph: port out of range")
	ErrNotNested     = errors.New("graph: node is not inside a nested body")
)

type NodeID int

// PortRef addresses one port of one node in the same graph.
type PortRef struct {
	Node NodeID
	Port int
}

// Output is an output port together with the tensor it produces.
type Output struct {
	Type      ElementType
	Shape     Shape
	Consumers []PortRef
}

type Node struct {
	ID      NodeID
	Name    string
	Kind    OpKind
	Inputs  []PortRef
	Outputs []Output

	// OpaqueType is the original type name of an OpOpaque node.
	OpaqueType string

	// Value holds the payload of a Const node when it is known.
	Value []int64

	// Body is the nested graph executed by TensorIterator and Loop nodes.
	// BodyOutputs maps an output port of this node to the Result node inside
	// Body that feeds it.
	Body        *Graph
	BodyOutputs map[int]NodeID
}

// TypeName is the operation type as written in the graph document.
func (n *Node) TypeName() string {
	if n.Kind == OpOpaque {
		return n.OpaqueType
	}
	return n.Kind.String()
}

// NodeSpec describes a node to add.
type NodeSpec struct {
	Name       string
	Kind       OpKind
	OpaqueType string
	Outputs    []Output
	Value   []int64
	Body    *Graph
}

type Graph struct {
	name   string
	nodes  []*Node
	byName map[string]NodeID

	parent *Graph
	owner  NodeID
}

func New(name string) *Graph {
	return &Graph{
		name:   name,
		byName: make(map[string]NodeID),
		owner:  InvalidNode,
	}
}

func (g *Graph) Name() string { return g.name }

func (g *Graph) Len() int { return len(g.nodes) }

// Owner returns the node in the parent graph whose body this graph is.
func (g *Graph) Owner() *Node {
	if g.parent == nil {
		return nil
	}
	return g.parent.Node(g.owner)
}

func (g *Graph) Root() *Graph {
	r := g
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// AddNode appends a node to the arena. A body graph is adopted by the new node.
func (g *Graph) AddNode(spec NodeSpec) (NodeID, error) {
	if spec.Name == "" || strings.Contains(spec.Name, Separator) {
		return InvalidNode, fmt.Errorf("graph: invalid node name %q", spec.Name)
	}
	if _, ok := g.byName[spec.Name]; ok {
		return InvalidNode, fmt.Errorf("%w: %s", ErrDuplicateNode, spec.Name)
	}
	if spec.Body != nil && spec.Body.parent != nil {
		return InvalidNode, fmt.Errorf("graph: body of %s already has an owner", spec.Name)
	}
	if spec.Kind == OpUnknown || (spec.Kind == OpOpaque && spec.OpaqueType == "") {
		return InvalidNode, fmt.Errorf("graph: node %s has no operation type", spec.Name)
	}
	id := NodeID(len(g.nodes))
	n := &Node{
		ID:      id,
		Name:    spec.Name,
		Kind:    spec.Kind,
		Outputs: make([]Output, len(spec.Outputs)),
		Value:   spec.Value,
		Body:    spec.Body,
	}
	for i, o := range spec.Outputs {
		n.Outputs[i] = Output{Type: o.Type, Shape: o.Shape.Clone()}
	}
	if spec.Body != nil {
		spec.Body.parent = g
		spec.Body.owner = id
		n.BodyOutputs = make(map[int]NodeID)
	}
	if spec.Kind == OpOpaque {
		n.OpaqueType = spec.OpaqueType
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = id
	return id, nil
}

// Connect wires output port srcPort of src to input port dstPort of dst.
func (g *Graph) Connect(src NodeID, srcPort int, dst NodeID, dstPort int) error {
	s, d := g.Node(src), g.Node(dst)
	if s == nil || d == nil {
		return fmt.Errorf("%w: connect %d -> %d", ErrUnknownNode, src, dst)
	}
	if srcPort < 0 || srcPort >= len(s.Outputs) {
		return fmt.Errorf("%w: %s output %d", ErrBadPort, s.Name, srcPort)
	}
	if dstPort < 0 {
		return fmt.Errorf("%w: %s input %d", ErrBadPort, d.Name, dstPort)
	}
	for len(d.Inputs) <= dstPort {
		d.Inputs = append(d.Inputs, PortRef{Node: InvalidNode})
	}
	if d.Inputs[dstPort].Node != InvalidNode {
		return fmt.Errorf("graph: %s input %d is already connected", d.Name, dstPort)
	}
	d.Inputs[dstPort] = PortRef{Node: src, Port: srcPort}
	s.Outputs[srcPort].Consumers = append(s.Outputs[srcPort].Consumers, PortRef{Node: dst, Port: dstPort})
	return nil
}

func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeByName finds a node of this graph, without descending into bodies.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Nodes returns the arena in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

func (g *Graph) NodesByKind(kinds ...OpKind) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		for _, k := range kinds {
			if n.Kind == k {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Walk visits every node of g and of every nested body in pre-order:
// a node is visited before the contents of its body.
func (g *Graph) Walk(fn func(owner *Graph, n *Node) error) error {
	for _, n := range g.nodes {
		if err := fn(g, n); err != nil {
			return err
		}
		if n.Body != nil {
			if err := n.Body.Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup resolves a full name such as "loop|body_conv" to its node.
func (g *Graph) Lookup(fullName string) (*Graph, *Node, error) {
	parts := strings.Split(fullName, Separator)
	cur := g
	for i, part := range parts {
		n, ok := cur.NodeByName(part)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, fullName)
		}
		if i == len(parts)-1 {
			return cur, n, nil
		}
		if n.Body == nil {
			return nil, nil, fmt.Errorf("%w: %s has no body", ErrUnknownNode, strings.Join(parts[:i+1], Separator))
		}
		cur = n.Body
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownNode, fullName)
}

// FullName returns the name of n qualified by the names of its enclosing nodes.
func (g *Graph) FullName(n *Node) string {
	if owner := g.Owner(); owner != nil {
		return g.parent.FullName(owner) + Separator + n.Name
	}
	return n.Name
}

// Producer returns the node feeding input port of n, or nil when unconnected.
func (g *Graph) Producer(n *Node, port int) *Node {
	if port < 0 || port >= len(n.Inputs) {
		return nil
	}
	return g.Node(n.Inputs[port].Node)
}

// Producers returns the distinct producers of n in input port order.
func (g *Graph) Producers(n *Node) []*Node {
	var out []*Node
	seen := make(map[NodeID]bool, len(n.Inputs))
	for _, in := range n.Inputs {
		p := g.Node(in.Node)
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// Consumers returns the distinct consumers of every output of n, ordered by
// output port and then by connection order.
func (g *Graph) Consumers(n *Node) []*Node {
	var out []*Node
	seen := make(map[NodeID]bool)
	for _, o := range n.Outputs {
		for _, c := range o.Consumers {
			if seen[c.Node] {
				continue
			}
			seen[c.Node] = true
			out = append(out, g.nodes[c.Node])
		}
	}
	return out
}

// InputShape returns the shape flowing into input port of n.
func (g *Graph) InputShape(n *Node, port int) Shape {
	if port < 0 || port >= len(n.Inputs) {
		return nil
	}
	ref := n.Inputs[port]
	p := g.Node(ref.Node)
	if p == nil || ref.Port >= len(p.Outputs) {
		return nil
	}
	return p.Outputs[ref.Port].Shape
}

// InputType returns the element type flowing into input port of n.
func (g *Graph) InputType(n *Node, port int) ElementType {
	if port < 0 || port >= len(n.Inputs) {
		return Dynamic
	}
	ref := n.Inputs[port]
	p := g.Node(ref.Node)
	if p == nil || ref.Port >= len(p.Outputs) {
		return Dynamic
	}
	return p.Outputs[ref.Port].Type
}

// OutputShape returns the shape produced on output port of n.
func OutputShape(n *Node, port int) Shape {
	if port < 0 || port >= len(n.Outputs) {
		return nil
	}
	return n.Outputs[port].Shape
}

// OutputType is the element type of the first output of n.
func OutputType(n *Node) ElementType {
	if len(n.Outputs) == 0 {
		return Dynamic
	}
	return n.Outputs[0].Type
}

// Validate checks that every edge is recorded on both of its ends and that
// no input port is left without a producer, in g and in every body.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		for i, in := range n.Inputs {
			p := g.Node(in.Node)
			if p == nil {
				return fmt.Errorf("%w: %s input %d", ErrDanglingPort, g.FullName(n), i)
			}
			if in.Port < 0 || in.Port >= len(p.Outputs) || !hasConsumer(p.Outputs[in.Port], n.ID, i) {
				return fmt.Errorf("%w: %s input %d not registered on %s", ErrDanglingPort, g.FullName(n), i, p.Name)
			}
		}
		for port, o := range n.Outputs {
			for _, c := range o.Consumers {
				cn := g.Node(c.Node)
				if cn == nil || c.Port >= len(cn.Inputs) || cn.Inputs[c.Port] != (PortRef{Node: n.ID, Port: port}) {
					return fmt.Errorf("%w: %s output %d has a stale consumer", ErrDanglingPort, g.FullName(n), port)
				}
			}
		}
		if n.Body != nil {
			for port, res := range n.BodyOutputs {
				if port >= len(n.Outputs) || n.Body.Node(res) == nil {
					return fmt.Errorf("%w: %s body output %d", ErrDanglingPort, g.FullName(n), port)
				}
			}
			if err := n.Body.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasConsumer(o Output, id NodeID, port int) bool {
	for _, c := range o.Consumers {
		if c.Node == id && c.Port == port {
			return true
		}
	}
	return false
}
