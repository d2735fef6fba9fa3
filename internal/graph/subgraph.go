package graph

import (
	"fmt"
	"strings"
)

// ExposeOutput makes output 0 of the node addressed by path (top-level node
// name first) observable from outside the top-level graph. Every enclosing
// body gets a Result and its owner a matching output port, and the top-level
// owner output is consumed by a new Result whose name is returned.
//
// Exposing the same node twice returns the existing Result name.
func (g *Graph) ExposeOutput(path []string) (string, error) {
	if g.parent != nil {
		return g.Root().ExposeOutput(path)
	}
	if len(path) < 2 {
		return "", fmt.Errorf("%w: %s", ErrNotNested, strings.Join(path, Separator))
	}
	// Resolve the whole path before touching the graph.
	if _, n, err := g.Lookup(strings.Join(path, Separator)); err != nil {
		return "", err
	} else if len(n.Outputs) == 0 {
		return "", fmt.Errorf("%w: %s has no outputs", ErrBadPort, n.Name)
	}

	owner, _ := g.NodeByName(path[0])
	port, err := exposeFromBody(owner, path[1:])
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s/sink_port_%d", owner.Name, port)
	if _, ok := g.NodeByName(name); ok {
		return name, nil
	}
	res, err := g.AddNode(NodeSpec{Name: name, Kind: OpResult})
	if err != nil {
		return "", err
	}
	if err := g.Connect(owner.ID, port, res, 0); err != nil {
		return "", err
	}
	return name, nil
}

// exposeFromBody threads the node addressed by path through the body of owner
// and returns the output port of owner that now carries it.
func exposeFromBody(owner *Node, path []string) (int, error) {
	body := owner.Body
	if body == nil {
		return 0, fmt.Errorf("%w: %s has no body", ErrNotNested, owner.Name)
	}
	n, ok := body.NodeByName(path[0])
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, path[0])
	}

	srcPort := 0
	if len(path) > 1 {
		p, err := exposeFromBody(n, path[1:])
		if err != nil {
			return 0, err
		}
		srcPort = p
	}

	resName := fmt.Sprintf("%s/sink_port_%d", n.Name, srcPort)
	if existing, ok := body.NodeByName(resName); ok {
		for port, id := range owner.BodyOutputs {
			if id == existing.ID {
				return port, nil
			}
		}
		return 0, fmt.Errorf("%w: %s is not mapped to an output of %s", ErrDanglingPort, resName, owner.Name)
	}

	res, err := body.AddNode(NodeSpec{Name: resName, Kind: OpResult})
	if err != nil {
		return 0, err
	}
	if err := body.Connect(n.ID, srcPort, res, 0); err != nil {
		return 0, err
	}
	src := n.Outputs[srcPort]
	owner.Outputs = append(owner.Outputs, Output{Type: src.Type, Shape: src.Shape.Clone()})
	port := len(owner.Outputs) - 1
	owner.BodyOutputs[port] = res
	return port, nil
}
