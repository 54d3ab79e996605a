package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Validate checks a graph against the port schemas of its node types.
// It rejects dangling edges, type-mismatched edge endpoints, multiple edges
// into one input port, and any data-dependency cycle. Subgraphs are
// validated recursively.
func Validate(g *Graph, schemas SchemaSource) error {
	for _, n := range g.nodes {
		if _, ok := schemas.NodeSchema(n.Type); !ok {
			return fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
	}

	seenInputs := make(map[PortRef]PortRef, len(g.edges))
	for _, e := range g.edges {
		src, srcOK := g.index[e.From.Node]
		dst, dstOK := g.index[e.To.Node]
		if !srcOK || !dstOK {
			return &Error{Kind: ErrDanglingEdge, Detail: fmt.Sprintf("edge %s -> %s references a missing node", e.From, e.To)}
		}

		srcSchema, _ := schemas.NodeSchema(src.Type)
		outDef, ok := srcSchema.Output(e.From.Port)
		if !ok {
			return &Error{Kind: ErrDanglingEdge, Detail: fmt.Sprintf("node %q has no output port %q", e.From.Node, e.From.Port)}
		}
		dstSchema, _ := schemas.NodeSchema(dst.Type)
		inDef, ok := dstSchema.Input(e.To.Port)
		if !ok {
			return &Error{Kind: ErrDanglingEdge, Detail: fmt.Sprintf("node %q has no input port %q", e.To.Node, e.To.Port)}
		}

		if !typesCompatible(outDef.Type, inDef.Type) {
			return &Error{Kind: ErrTypeMismatch, Detail: fmt.Sprintf(
				"edge %s (%s) -> %s (%s)", e.From, outDef.Type.FriendlyName(), e.To, inDef.Type.FriendlyName())}
		}

		if prev, dup := seenInputs[e.To]; dup {
			return &Error{Kind: ErrMultipleInputs, Detail: fmt.Sprintf(
				"input port %s fed by both %s and %s", e.To, prev, e.From)}
		}
		seenInputs[e.To] = e.From
	}

	if err := detectCycles(g); err != nil {
		return err
	}

	for _, n := range g.nodes {
		if n.Subgraph != nil {
			if err := Validate(n.Subgraph, schemas); err != nil {
				return fmt.Errorf("subgraph of node %q: %w", n.ID, err)
			}
		}
	}
	return nil
}

// typesCompatible reports whether a value of type src may flow into a port
// of type dst. Dynamic on either side defers the check to runtime.
func typesCompatible(src, dst cty.Type) bool {
	if src == cty.DynamicPseudoType || dst == cty.DynamicPseudoType {
		return true
	}
	return src.Equals(dst)
}

// detectCycles runs a depth-first search with the classic three node sets:
// permanent (fully visited), temporary (in the current recursion stack),
// and unvisited.
func detectCycles(g *Graph) error {
	dependents := g.dependents()
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return &Error{Kind: ErrCycle, Detail: fmt.Sprintf("cycle involving node %q", id)}
		}
		temporary[id] = true
		for _, dep := range dependents[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.ID] {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
