package graph

import "fmt"

// Plan is the compiled execution order of a graph: a sequence of ready
// groups, each a set of node IDs whose dependencies are satisfied at the
// same scheduling depth and which may be dispatched concurrently.
// Iteration constructs compile into Sub plans that the engine re-enters per
// iteration rather than expanding at compile time.
type Plan struct {
	Groups [][]string
	Sub    map[string]*Plan
}

// GroupIndex returns the ready-group index of a node, or -1 if the node is
// not part of the plan.
func (p *Plan) GroupIndex(nodeID string) int {
	for i, group := range p.Groups {
		for _, id := range group {
			if id == nodeID {
				return i
			}
		}
	}
	return -1
}

// CompilePlan layers the graph with Kahn's algorithm. Nodes within a group
// keep their graph insertion order so repeated compilations of the same
// graph dispatch identically. A cycle yields ErrCycle.
func CompilePlan(g *Graph) (*Plan, error) {
	deps := g.dependencies()
	dependents := g.dependents()

	indegree := make(map[string]int, len(g.nodes))
	for id, d := range deps {
		indegree[id] = len(d)
	}

	plan := &Plan{}
	placed := 0
	// current holds this depth's ready set, in insertion order.
	var current []string
	for _, n := range g.nodes {
		if indegree[n.ID] == 0 {
			current = append(current, n.ID)
		}
	}

	for len(current) > 0 {
		plan.Groups = append(plan.Groups, current)
		placed += len(current)

		ready := make(map[string]bool)
		for _, id := range current {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					ready[dep] = true
				}
			}
		}
		current = nil
		for _, n := range g.nodes {
			if ready[n.ID] {
				current = append(current, n.ID)
			}
		}
	}

	if placed != len(g.nodes) {
		return nil, &Error{Kind: ErrCycle, Detail: fmt.Sprintf("%d of %d nodes unreachable by topological layering", len(g.nodes)-placed, len(g.nodes))}
	}

	for _, n := range g.nodes {
		if n.Subgraph == nil {
			continue
		}
		sub, err := CompilePlan(n.Subgraph)
		if err != nil {
			return nil, fmt.Errorf("compiling subgraph of node %q: %w", n.ID, err)
		}
		if plan.Sub == nil {
			plan.Sub = make(map[string]*Plan)
		}
		plan.Sub[n.ID] = sub
	}
	return plan, nil
}
