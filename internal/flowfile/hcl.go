package flowfile

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/opcflow/internal/graph"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "workflow", LabelNames: []string{"name"}},
		{Type: "node", LabelNames: []string{"id", "type"}},
		{Type: "edge"},
	},
}

var graphSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "node", LabelNames: []string{"id", "type"}},
		{Type: "edge"},
	},
}

var nodeSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "config"},
		{Type: "on_failure"},
		{Type: "body"},
	},
}

// DecodeHCL parses a hand-written workflow definition.
func DecodeHCL(src []byte, filename string) (string, *graph.Graph, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return "", nil, fmt.Errorf("parsing %s: %s", filename, diags.Error())
	}

	content, diags := f.Body.Content(fileSchema)
	if diags.HasErrors() {
		return "", nil, fmt.Errorf("reading %s: %s", filename, diags.Error())
	}

	var name string
	g := graph.New()
	for _, block := range content.Blocks {
		switch block.Type {
		case "workflow":
			name = block.Labels[0]
		case "node":
			n, err := decodeNodeBlock(block)
			if err != nil {
				return "", nil, err
			}
			if err := g.AddNode(n); err != nil {
				return "", nil, err
			}
		case "edge":
			e, err := decodeEdgeBlock(block)
			if err != nil {
				return "", nil, err
			}
			if err := g.AddEdge(e); err != nil {
				return "", nil, err
			}
		}
	}
	return name, g, nil
}

func decodeGraphBody(body hcl.Body) (*graph.Graph, error) {
	content, diags := body.Content(graphSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("reading subgraph body: %s", diags.Error())
	}
	g := graph.New()
	for _, block := range content.Blocks {
		switch block.Type {
		case "node":
			n, err := decodeNodeBlock(block)
			if err != nil {
				return nil, err
			}
			if err := g.AddNode(n); err != nil {
				return nil, err
			}
		case "edge":
			e, err := decodeEdgeBlock(block)
			if err != nil {
				return nil, err
			}
			if err := g.AddEdge(e); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func decodeNodeBlock(block *hcl.Block) (*graph.Node, error) {
	n := &graph.Node{ID: block.Labels[0], Type: block.Labels[1], Config: make(map[string]cty.Value)}

	content, diags := block.Body.Content(nodeSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("node %q: %s", n.ID, diags.Error())
	}
	for _, inner := range content.Blocks {
		switch inner.Type {
		case "config":
			attrs, diags := inner.Body.JustAttributes()
			if diags.HasErrors() {
				return nil, fmt.Errorf("node %q config: %s", n.ID, diags.Error())
			}
			for name, attr := range attrs {
				v, diags := attr.Expr.Value(nil)
				if diags.HasErrors() {
					return nil, fmt.Errorf("node %q config %q: %s", n.ID, name, diags.Error())
				}
				n.Config[name] = v
			}
		case "on_failure":
			policy, err := decodeFailureBlock(inner, n.ID)
			if err != nil {
				return nil, err
			}
			n.OnFailure = policy
		case "body":
			sub, err := decodeGraphBody(inner.Body)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			n.Subgraph = sub
		}
	}
	return n, nil
}

func decodeFailureBlock(block *hcl.Block, nodeID string) (graph.FailurePolicy, error) {
	var out graph.FailurePolicy
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return out, fmt.Errorf("node %q on_failure: %s", nodeID, diags.Error())
	}
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return out, fmt.Errorf("node %q on_failure %q: %s", nodeID, name, diags.Error())
		}
		switch name {
		case "policy":
			s, err := stringAttr(v)
			if err != nil {
				return out, fmt.Errorf("node %q on_failure policy: %w", nodeID, err)
			}
			kind, err := graph.ParsePolicyKind(s)
			if err != nil {
				return out, fmt.Errorf("node %q: %w", nodeID, err)
			}
			out.Kind = kind
		case "attempts":
			conv, err := convert.Convert(v, cty.Number)
			if err != nil {
				return out, fmt.Errorf("node %q on_failure attempts: %w", nodeID, err)
			}
			n, _ := conv.AsBigFloat().Int64()
			out.Attempts = int(n)
		case "backoff":
			s, err := stringAttr(v)
			if err != nil {
				return out, fmt.Errorf("node %q on_failure backoff: %w", nodeID, err)
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return out, fmt.Errorf("node %q on_failure backoff: %w", nodeID, err)
			}
			out.Backoff = d
		default:
			return out, fmt.Errorf("node %q on_failure: unknown attribute %q", nodeID, name)
		}
	}
	return out, nil
}

func decodeEdgeBlock(block *hcl.Block) (graph.Edge, error) {
	var out graph.Edge
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return out, fmt.Errorf("edge: %s", diags.Error())
	}
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return out, fmt.Errorf("edge %q: %s", name, diags.Error())
		}
		s, err := stringAttr(v)
		if err != nil {
			return out, fmt.Errorf("edge %q: %w", name, err)
		}
		ref, err := graph.ParsePortRef(s)
		if err != nil {
			return out, err
		}
		switch name {
		case "from":
			out.From = ref
		case "to":
			out.To = ref
		default:
			return out, fmt.Errorf("edge: unknown attribute %q", name)
		}
	}
	if out.From.Node == "" || out.To.Node == "" {
		return out, fmt.Errorf("edge needs both from and to")
	}
	return out, nil
}

func stringAttr(v cty.Value) (string, error) {
	if v.Type() != cty.String {
		return "", fmt.Errorf("expected a string, got %s", v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

// LoadHCL reads a hand-written workflow file.
func LoadHCL(path string) (string, *graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return DecodeHCL(data, path)
}
