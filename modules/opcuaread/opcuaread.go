// Package opcuaread reads the current value of one server variable.
package opcuaread

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the opcua_read node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "opcua_read",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "node_id", Type: cty.String, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType},
				{Name: "timestamp", Type: cty.String},
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

	sess, err := call.Sessions.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer call.Sessions.Release(ctx, sess)

	results, err := sess.Read(ctx, []string{nodeID})
	if err != nil {
		return nil, err
	}
	res := results[nodeID]
	if !res.Good() {
		return nil, fmt.Errorf("reading %s: bad status 0x%08X", nodeID, res.Status)
	}
	v, err := value.FromGo(res.Value)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", nodeID, err)
	}
	return map[string]cty.Value{
		"value":     v,
		"timestamp": cty.StringVal(res.Timestamp.Format(time.RFC3339Nano)),
	}, nil
}
