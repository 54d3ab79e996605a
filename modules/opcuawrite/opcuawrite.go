// Package opcuawrite writes a value to one server variable.
package opcuawrite

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the opcua_write node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "opcua_write",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType, Optional: true},
				{Name: "node_id", Type: cty.String, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "done", Type: cty.Bool},
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
	nodeID := ""
	if v, ok := call.ConfigValue("node_id"); ok && v.Type() == cty.String {
		nodeID = v.AsString()
	}
	if nodeID == "" {
		return nil, fmt.Errorf("missing required config attribute \"node_id\"")
	}
	v, ok := call.ConfigValue("value")
	if !ok {
		return nil, fmt.Errorf("missing value: wire the \"value\" port or set config \"value\"")
	}
	gv, err := value.ToGo(v)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", nodeID, err)
	}

	sess, err := call.Sessions.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer call.Sessions.Release(ctx, sess)

	if err := sess.Write(ctx, nodeID, gv); err != nil {
		return nil, err
	}
	return map[string]cty.Value{"done": cty.True}, nil
}
