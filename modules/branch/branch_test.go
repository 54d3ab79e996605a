package branch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/branch"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	branch.Register(r)
	h, ok := r.Handler("branch")
	require.True(t, ok)
	return h
}

func TestBranchTakesThenPath(t *testing.T) {
	t.Parallel()
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "check",
		Config: map[string]cty.Value{"condition": cty.StringVal("value > 80.0")},
		Inputs: map[string]cty.Value{"value": cty.NumberFloatVal(92.5)},
	})
	require.NoError(t, err)

	v, ok := out["then"]
	require.True(t, ok, "then port carries the value")
	assert.True(t, cty.NumberFloatVal(92.5).RawEquals(v))
	_, ok = out["else"]
	assert.False(t, ok, "untaken port is not emitted")
}

func TestBranchTakesElsePath(t *testing.T) {
	t.Parallel()
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "check",
		Config: map[string]cty.Value{"condition": cty.StringVal("value > 80.0")},
		Inputs: map[string]cty.Value{"value": cty.NumberFloatVal(12.0)},
	})
	require.NoError(t, err)

	_, ok := out["then"]
	assert.False(t, ok)
	_, ok = out["else"]
	assert.True(t, ok)
}

func TestBranchRequiresCondition(t *testing.T) {
	t.Parallel()
	_, err := handler(t).Run(context.Background(), &registry.Call{NodeID: "check"})
	require.ErrorContains(t, err, "condition")
}
