package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Status is the lifecycle state of a node within one run.
type Status int

const (
	StatusIdle Status = iota
	StatusReady
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
	StatusCancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is a terminal node state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// PortDef declares one typed port on a node type.
type PortDef struct {
	Name string
	Type cty.Type
	// Optional inputs may be absent at dispatch time without skipping the node.
	Optional bool
}

// Schema declares the ordered input and output ports of a node type.
type Schema struct {
	Inputs  []PortDef
	Outputs []PortDef
}

// Input looks up an input port definition by name.
func (s Schema) Input(name string) (PortDef, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDef{}, false
}

// Output looks up an output port definition by name.
func (s Schema) Output(name string) (PortDef, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDef{}, false
}

// SchemaSource resolves the port schema for a node type. Implemented by the
// node-type registry; validation and planning only need this narrow view.
type SchemaSource interface {
	NodeSchema(nodeType string) (Schema, bool)
}

// PortRef addresses one port of one node, rendered as "node.port".
type PortRef struct {
	Node string
	Port string
}

// String implements fmt.Stringer.
func (r PortRef) String() string { return r.Node + "." + r.Port }

// ParsePortRef parses a "node.port" address.
func ParsePortRef(s string) (PortRef, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return PortRef{}, fmt.Errorf("invalid port reference %q, want \"node.port\"", s)
	}
	return PortRef{Node: s[:i], Port: s[i+1:]}, nil
}

// PolicyKind selects how the engine reacts when a node fails.
type PolicyKind int

const (
	// PolicyHalt aborts the remainder of the run.
	PolicyHalt PolicyKind = iota
	// PolicySkipDownstream marks all transitive dependents skipped and
	// lets unrelated branches continue.
	PolicySkipDownstream
	// PolicyRetry retries the node with backoff, then halts the run.
	PolicyRetry
)

// String implements fmt.Stringer.
func (k PolicyKind) String() string {
	switch k {
	case PolicyHalt:
		return "halt"
	case PolicySkipDownstream:
		return "skip_downstream"
	case PolicyRetry:
		return "retry"
	default:
		return fmt.Sprintf("policy(%d)", int(k))
	}
}

// ParsePolicyKind parses the persisted form of a policy kind.
func ParsePolicyKind(s string) (PolicyKind, error) {
	switch s {
	case "", "halt":
		return PolicyHalt, nil
	case "skip_downstream":
		return PolicySkipDownstream, nil
	case "retry":
		return PolicyRetry, nil
	default:
		return PolicyHalt, fmt.Errorf("unknown failure policy %q", s)
	}
}

// FailurePolicy is the per-node failure handling configuration. The zero
// value is PolicyHalt.
type FailurePolicy struct {
	Kind     PolicyKind
	Attempts int
	Backoff  time.Duration
}

// Node is one computation unit in the workflow.
type Node struct {
	ID        string
	Type      string
	Config    map[string]cty.Value
	OnFailure FailurePolicy
	// Subgraph is the body of an iteration construct (loop). Nil for
	// ordinary nodes.
	Subgraph *Graph
}

// Edge is a directed data connection from an output port to an input port.
// Edges are immutable once added.
type Edge struct {
	From PortRef
	To   PortRef
}

// Graph is the set of nodes and edges forming one workflow. Node insertion
// order is preserved for deterministic planning.
type Graph struct {
	nodes []*Node
	index map[string]*Node
	edges []Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]*Node)}
}

// AddNode adds a node to the graph. Node IDs must be unique.
func (g *Graph) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("node must have an id")
	}
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	if n.Config == nil {
		n.Config = make(map[string]cty.Value)
	}
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n
	return nil
}

// AddEdge adds a directed edge between two existing nodes. Self-loops are
// rejected here; port existence and typing are checked by Validate.
func (g *Graph) AddEdge(e Edge) error {
	if e.From.Node == e.To.Node {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", e.From, e.To)
	}
	if _, ok := g.index[e.From.Node]; !ok {
		return fmt.Errorf("source node not found: %s", e.From.Node)
	}
	if _, ok := g.index[e.To.Node]; !ok {
		return fmt.Errorf("destination node not found: %s", e.To.Node)
	}
	g.edges = append(g.edges, e)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgeInto returns the single edge feeding the given input port, if any.
func (g *Graph) EdgeInto(to PortRef) (Edge, bool) {
	for _, e := range g.edges {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// InEdges returns the edges whose destination is the given node.
func (g *Graph) InEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.To.Node == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// dependencies returns, per node, the deduplicated set of upstream node IDs.
func (g *Graph) dependencies() map[string][]string {
	deps := make(map[string]map[string]struct{}, len(g.nodes))
	for _, n := range g.nodes {
		deps[n.ID] = make(map[string]struct{})
	}
	for _, e := range g.edges {
		deps[e.To.Node][e.From.Node] = struct{}{}
	}
	out := make(map[string][]string, len(deps))
	for id, set := range deps {
		ids := make([]string, 0, len(set))
		for dep := range set {
			ids = append(ids, dep)
		}
		sort.Strings(ids)
		out[id] = ids
	}
	return out
}

// dependents returns, per node, the deduplicated set of downstream node IDs.
func (g *Graph) dependents() map[string][]string {
	deps := make(map[string]map[string]struct{}, len(g.nodes))
	for _, n := range g.nodes {
		deps[n.ID] = make(map[string]struct{})
	}
	for _, e := range g.edges {
		deps[e.From.Node][e.To.Node] = struct{}{}
	}
	out := make(map[string][]string, len(deps))
	for id, set := range deps {
		ids := make([]string, 0, len(set))
		for dep := range set {
			ids = append(ids, dep)
		}
		sort.Strings(ids)
		out[id] = ids
	}
	return out
}

// Descendants returns the transitive downstream closure of a node, sorted.
func (g *Graph) Descendants(nodeID string) []string {
	dependents := g.dependents()
	seen := make(map[string]struct{})
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range dependents[id] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(nodeID)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
