// Package print logs its input, useful as a terminal node while authoring
// workflows.
package print

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/ctxlog"
	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the print node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "print",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "input", Type: cty.DynamicPseudoType, Optional: true},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx)
	prefix := value.GetString(call.Config, "prefix")
	if prefix == "" {
		prefix = call.NodeID
	}

	v, ok := call.Inputs["input"]
	if !ok {
		logger.Info("🖨️ "+prefix, "value", nil)
		return nil, nil
	}
	gv, err := value.ToGo(v)
	if err != nil {
		return nil, err
	}
	logger.Info("🖨️ "+prefix, "value", gv)
	return nil, nil
}
