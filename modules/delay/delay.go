// Package delay pauses the flow for a configured duration.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the delay node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "delay",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "trigger", Type: cty.DynamicPseudoType, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "done", Type: cty.Bool},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	s := value.GetString(call.Config, "duration")
	if s == "" {
		return nil, fmt.Errorf("missing required config attribute \"duration\"")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
	}
	return map[string]cty.Value{"done": cty.True}, nil
}
