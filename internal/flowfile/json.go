package flowfile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/value"
)

// Version is the current flow file format version.
const Version = 1

type fileJSON struct {
	Version int        `json:"version"`
	Name    string     `json:"name,omitempty"`
	Graph   graphJSON  `json:"graph"`
}

type graphJSON struct {
	Nodes []nodeJSON `json:"nodes"`
	Edges []edgeJSON `json:"edges,omitempty"`
}

type nodeJSON struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Config    map[string]value.Typed `json:"config,omitempty"`
	OnFailure *failureJSON           `json:"on_failure,omitempty"`
	Subgraph  *graphJSON             `json:"subgraph,omitempty"`
}

type failureJSON struct {
	Policy   string `json:"policy"`
	Attempts int    `json:"attempts,omitempty"`
	Backoff  string `json:"backoff,omitempty"`
}

type edgeJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EncodeJSON renders a graph into the canonical flow file form.
func EncodeJSON(name string, g *graph.Graph) ([]byte, error) {
	gj, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(fileJSON{Version: Version, Name: name, Graph: *gj}, "", "  ")
}

func encodeGraph(g *graph.Graph) (*graphJSON, error) {
	out := &graphJSON{}
	for _, n := range g.Nodes() {
		nj := nodeJSON{ID: n.ID, Type: n.Type}
		if len(n.Config) > 0 {
			nj.Config = make(map[string]value.Typed, len(n.Config))
			keys := make([]string, 0, len(n.Config))
			for k := range n.Config {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				tv, err := value.MarshalTyped(n.Config[k])
				if err != nil {
					return nil, fmt.Errorf("node %q config %q: %w", n.ID, k, err)
				}
				nj.Config[k] = tv
			}
		}
		if n.OnFailure != (graph.FailurePolicy{}) {
			fj := &failureJSON{Policy: n.OnFailure.Kind.String(), Attempts: n.OnFailure.Attempts}
			if n.OnFailure.Backoff > 0 {
				fj.Backoff = n.OnFailure.Backoff.String()
			}
			nj.OnFailure = fj
		}
		if n.Subgraph != nil {
			sub, err := encodeGraph(n.Subgraph)
			if err != nil {
				return nil, fmt.Errorf("node %q subgraph: %w", n.ID, err)
			}
			nj.Subgraph = sub
		}
		out.Nodes = append(out.Nodes, nj)
	}
	for _, e := range g.Edges() {
		out.Edges = append(out.Edges, edgeJSON{From: e.From.String(), To: e.To.String()})
	}
	return out, nil
}

// DecodeJSON parses the canonical flow file form.
func DecodeJSON(data []byte) (string, *graph.Graph, error) {
	var f fileJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parsing flow file: %w", err)
	}
	if f.Version != Version {
		return "", nil, fmt.Errorf("unsupported flow file version %d", f.Version)
	}
	g, err := decodeGraph(&f.Graph)
	if err != nil {
		return "", nil, err
	}
	return f.Name, g, nil
}

func decodeGraph(gj *graphJSON) (*graph.Graph, error) {
	g := graph.New()
	for _, nj := range gj.Nodes {
		n := &graph.Node{ID: nj.ID, Type: nj.Type}
		if len(nj.Config) > 0 {
			n.Config = make(map[string]cty.Value, len(nj.Config))
		}
		for k, tv := range nj.Config {
			v, err := value.UnmarshalTyped(tv)
			if err != nil {
				return nil, fmt.Errorf("node %q config %q: %w", nj.ID, k, err)
			}
			n.Config[k] = v
		}
		if nj.OnFailure != nil {
			kind, err := graph.ParsePolicyKind(nj.OnFailure.Policy)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", nj.ID, err)
			}
			n.OnFailure = graph.FailurePolicy{Kind: kind, Attempts: nj.OnFailure.Attempts}
			if nj.OnFailure.Backoff != "" {
				d, err := time.ParseDuration(nj.OnFailure.Backoff)
				if err != nil {
					return nil, fmt.Errorf("node %q backoff: %w", nj.ID, err)
				}
				n.OnFailure.Backoff = d
			}
		}
		if nj.Subgraph != nil {
			sub, err := decodeGraph(nj.Subgraph)
			if err != nil {
				return nil, fmt.Errorf("node %q subgraph: %w", nj.ID, err)
			}
			n.Subgraph = sub
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, ej := range gj.Edges {
		from, err := graph.ParsePortRef(ej.From)
		if err != nil {
			return nil, err
		}
		to, err := graph.ParsePortRef(ej.To)
		if err != nil {
			return nil, err
		}
		if err := g.AddEdge(graph.Edge{From: from, To: to}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// SaveJSON writes a graph to path in the canonical form.
func SaveJSON(path, name string, g *graph.Graph) error {
	data, err := EncodeJSON(name, g)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// LoadJSON reads a canonical flow file.
func LoadJSON(path string) (string, *graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return DecodeJSON(data)
}
