package transform_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/transform"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	transform.Register(r)
	h, ok := r.Handler("transform")
	require.True(t, ok)
	return h
}

func TestTransformEvaluatesExpression(t *testing.T) {
	t.Parallel()
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "calc",
		Config: map[string]cty.Value{"expression": cty.StringVal("value * 2 + 1")},
		Inputs: map[string]cty.Value{"value": cty.NumberIntVal(20)},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(41).RawEquals(out["result"]))
}

func TestTransformSeesAllInputs(t *testing.T) {
	t.Parallel()
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "calc",
		Config: map[string]cty.Value{"expression": cty.StringVal("a > b ? a : b")},
		Inputs: map[string]cty.Value{
			"a": cty.NumberIntVal(3),
			"b": cty.NumberIntVal(7),
		},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(7).RawEquals(out["result"]))
}

func TestTransformRejectsBadExpression(t *testing.T) {
	t.Parallel()
	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "calc",
		Config: map[string]cty.Value{"expression": cty.StringVal("value +* 2")},
		Inputs: map[string]cty.Value{"value": cty.NumberIntVal(1)},
	})
	require.ErrorContains(t, err, "compiling expression")
}
