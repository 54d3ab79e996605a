// Package variable reads and writes the run's shared variable scope.
package variable

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the set_variable and get_variable node types.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "set_variable",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType},
			},
		},
		Run: runSet,
	})
	r.Register(&registry.Handler{
		Type: "get_variable",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType},
			},
		},
		Run: runGet,
	})
}

func runSet(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	name := value.GetString(call.Config, "name")
	if name == "" {
		return nil, fmt.Errorf("missing required config attribute \"name\"")
	}
	v, ok := call.ConfigValue("value")
	if !ok {
		return nil, fmt.Errorf("missing value: wire the \"value\" port or set config \"value\"")
	}
	call.Vars.Set(name, v)
	return map[string]cty.Value{"value": v}, nil
}

func runGet(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	name := value.GetString(call.Config, "name")
	if name == "" {
		return nil, fmt.Errorf("missing required config attribute \"name\"")
	}
	v, ok := call.Vars.Get(name)
	if !ok {
		if def, has := call.Config["default"]; has {
			return map[string]cty.Value{"value": def}, nil
		}
		return nil, fmt.Errorf("variable %q is not set", name)
	}
	return map[string]cty.Value{"value": v}, nil
}
