// Package opcuacall invokes a method on a server object. The method may be
// addressed by node id or resolved by browse name under the parent object.
package opcuacall

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the opcua_call node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "opcua_call",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "args", Type: cty.DynamicPseudoType, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "results", Type: cty.DynamicPseudoType},
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
	objectID := value.GetString(call.Config, "object_id")
	if objectID == "" {
		return nil, fmt.Errorf("missing required config attribute \"object_id\"")
	}

	sess, err := call.Sessions.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer call.Sessions.Release(ctx, sess)

	methodID := value.GetString(call.Config, "method_id")
	if methodID == "" {
		name := value.GetString(call.Config, "method")
		if name == "" {
			return nil, fmt.Errorf("set config \"method_id\" or browse name \"method\"")
		}
		methodID, err = resolveMethod(ctx, sess, objectID, name)
		if err != nil {
			return nil, err
		}
	}

	var args []any
	if v, ok := call.ConfigValue("args"); ok {
		gv, err := value.ToGo(v)
		if err != nil {
			return nil, fmt.Errorf("converting args: %w", err)
		}
		list, ok := gv.([]any)
		if !ok {
			list = []any{gv}
		}
		args = list
	}

	outs, err := sess.Call(ctx, objectID, methodID, args)
	if err != nil {
		return nil, err
	}
	results, err := value.FromGo(outs)
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{"results": results}, nil
}

// resolveMethod finds the method child of an object by browse name.
func resolveMethod(ctx context.Context, sess *opc.Session, objectID, name string) (string, error) {
	refs, err := sess.Browse(ctx, objectID)
	if err != nil {
		return "", fmt.Errorf("resolving method %q: %w", name, err)
	}
	for _, ref := range refs {
		if ref.Class == opc.ClassMethod && ref.BrowseName == name {
			return ref.NodeID, nil
		}
	}
	return "", fmt.Errorf("object %s has no method %q", objectID, name)
}
