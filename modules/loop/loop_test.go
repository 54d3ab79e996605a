package loop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/loop"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	loop.Register(r)
	h, ok := r.Handler("loop")
	require.True(t, ok)
	return h
}

// fakeSub records seeds and returns scripted locals per iteration.
type fakeSub struct {
	seeds  []map[string]cty.Value
	locals func(iteration int) map[string]cty.Value
}

func (f *fakeSub) Run(ctx context.Context, seed map[string]cty.Value) (map[string]cty.Value, error) {
	f.seeds = append(f.seeds, seed)
	if f.locals == nil {
		return nil, nil
	}
	return f.locals(len(f.seeds) - 1), nil
}

func TestLoopRunsCountIterations(t *testing.T) {
	t.Parallel()
	sub := &fakeSub{}
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "cycle",
		Config: map[string]cty.Value{"count": cty.NumberIntVal(3)},
		Sub:    sub,
	})
	require.NoError(t, err)

	require.Len(t, sub.seeds, 3)
	for i, seed := range sub.seeds {
		assert.True(t, cty.NumberIntVal(int64(i)).RawEquals(seed["i"]), "iteration %d", i)
	}
	assert.True(t, cty.NumberIntVal(3).RawEquals(out["iterations"]))
}

func TestLoopWhileConditionSeesBodyLocals(t *testing.T) {
	t.Parallel()
	sub := &fakeSub{
		locals: func(iteration int) map[string]cty.Value {
			return map[string]cty.Value{"pressure": cty.NumberIntVal(int64(iteration * 40))}
		},
	}
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "pressurize",
		Config: map[string]cty.Value{"while": cty.StringVal("i == 0 || pressure < 80")},
		Sub:    sub,
	})
	require.NoError(t, err)

	// Iterations 0,1,2 run; after the third, pressure reaches 80.
	assert.Len(t, sub.seeds, 3)
	assert.True(t, cty.NumberIntVal(3).RawEquals(out["iterations"]))
}

func TestLoopGuardsRunawayWhile(t *testing.T) {
	t.Parallel()
	sub := &fakeSub{}
	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "forever",
		Config: map[string]cty.Value{
			"while":          cty.StringVal("true"),
			"max_iterations": cty.NumberIntVal(5),
		},
		Sub: sub,
	})
	require.ErrorContains(t, err, "exceeded 5 iterations")
	assert.Len(t, sub.seeds, 5)
}

func TestLoopRequiresBody(t *testing.T) {
	t.Parallel()
	_, err := handler(t).Run(context.Background(), &registry.Call{NodeID: "cycle"})
	require.ErrorContains(t, err, "no body")
}
