// Package loop re-executes a node's subgraph, either a fixed number of
// times or while a condition over the body's variables holds.
package loop

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// DefaultMaxIterations guards while-loops against runaway conditions.
const DefaultMaxIterations = 1000

// Register wires the loop node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "loop",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{
				{Name: "iterations", Type: cty.Number},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	if call.Sub == nil {
		return nil, fmt.Errorf("loop node %q has no body", call.NodeID)
	}
	count := value.GetInt(call.Config, "count", 1)
	whileSrc := value.GetString(call.Config, "while")
	maxIter := value.GetInt(call.Config, "max_iterations", DefaultMaxIterations)

	lastLocals := map[string]cty.Value{}
	var i int64
	for ; ; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if whileSrc == "" {
			if i >= count {
				break
			}
		} else {
			if i >= maxIter {
				return nil, fmt.Errorf("loop %q exceeded %d iterations", call.NodeID, maxIter)
			}
			more, err := evalWhile(whileSrc, i, lastLocals)
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
		}

		locals, err := call.Sub.Run(ctx, map[string]cty.Value{"i": cty.NumberIntVal(i)})
		if err != nil {
			return nil, fmt.Errorf("loop %q iteration %d: %w", call.NodeID, i, err)
		}
		lastLocals = locals
	}

	return map[string]cty.Value{"iterations": cty.NumberIntVal(i)}, nil
}

// evalWhile evaluates the continue condition against the iteration index
// and the variables set by the previous iteration's body.
func evalWhile(src string, i int64, locals map[string]cty.Value) (bool, error) {
	env, err := value.MapToGo(locals)
	if err != nil {
		return false, err
	}
	env["i"] = i

	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compiling while condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating while condition: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("while condition must evaluate to a bool, got %T", out)
	}
	return b, nil
}
