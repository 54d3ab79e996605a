// Package branch routes a value down one of two paths based on a condition.
// Only the taken output port is emitted; nodes downstream of the untaken
// port are skipped by the engine.
package branch

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// Register wires the branch node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "branch",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "value", Type: cty.DynamicPseudoType, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "then", Type: cty.DynamicPseudoType},
				{Name: "else", Type: cty.DynamicPseudoType},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	src := value.GetString(call.Config, "condition")
	if src == "" {
		return nil, fmt.Errorf("missing required config attribute \"condition\"")
	}
	env, err := value.MapToGo(call.Inputs)
	if err != nil {
		return nil, err
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating condition: %w", err)
	}
	taken, ok := out.(bool)
	if !ok {
		return nil, fmt.Errorf("condition must evaluate to a bool, got %T", out)
	}

	passthrough := cty.True
	if v, ok := call.Inputs["value"]; ok {
		passthrough = v
	}
	if taken {
		return map[string]cty.Value{"then": passthrough}, nil
	}
	return map[string]cty.Value{"else": passthrough}, nil
}
