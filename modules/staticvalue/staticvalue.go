// Package staticvalue emits a constant configured value.
package staticvalue

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
)

// Register wires the static_value node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "static_value",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	v, ok := call.Config["value"]
	if !ok {
		return nil, fmt.Errorf("missing required config attribute \"value\"")
	}
	return map[string]cty.Value{"value": v}, nil
}
