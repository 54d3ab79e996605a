// Package transform evaluates an expression over the node's inputs.
package transform

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the transform node type. The expression sees every
// connected input port as a variable of the same name.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "transform",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType, Optional: true},
				{Name: "a", Type: cty.DynamicPseudoType, Optional: true},
				{Name: "b", Type: cty.DynamicPseudoType, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "result", Type: cty.DynamicPseudoType},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	src := value.GetString(call.Config, "expression")
	if src == "" {
		return nil, fmt.Errorf("missing required config attribute \"expression\"")
	}
	env, err := value.MapToGo(call.Inputs)
	if err != nil {
		return nil, err
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}

	result, err := value.FromGo(out)
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{"result": result}, nil
}
