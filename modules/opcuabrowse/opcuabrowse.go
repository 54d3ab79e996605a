// Package opcuabrowse lists the children of a server node.
package opcuabrowse

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// ObjectsFolder is the default browse root.
const ObjectsFolder = "i=85"

// Register wires the opcua_browse node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "opcua_browse",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "node_id", Type: cty.String, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "nodes", Type: cty.DynamicPseudoType},
				{Name: "count", Type: cty.Number},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	cfg, err := call.SessionConfig()
	if err != nil {
		return nil, err
	}
	nodeID := ObjectsFolder
	if v, ok := call.ConfigValue("node_id"); ok && v.Type() == cty.String && v.AsString() != "" {
		nodeID = v.AsString()
	}

	sess, err := call.Sessions.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer call.Sessions.Release(ctx, sess)

	refs, err := sess.Browse(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(refs))
	for _, ref := range refs {
		items = append(items, map[string]any{
			"node_id":     ref.NodeID,
			"browse_name": ref.BrowseName,
			"class":       ref.Class.String(),
		})
	}
	nodes, err := value.FromGo(items)
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{
		"nodes": nodes,
		"count": cty.NumberIntVal(int64(len(refs))),
	}, nil
}
