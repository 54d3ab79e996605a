package variable_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/engine"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/variable"
)

func handlers(t *testing.T) (*registry.Handler, *registry.Handler) {
	t.Helper()
	r := registry.New()
	variable.Register(r)
	set, ok := r.Handler("set_variable")
	require.True(t, ok)
	get, ok := r.Handler("get_variable")
	require.True(t, ok)
	return set, get
}

func TestSetThenGet(t *testing.T) {
	t.Parallel()
	set, get := handlers(t)
	vars := engine.NewVars()

	out, err := set.Run(context.Background(), &registry.Call{
		NodeID: "s",
		Config: map[string]cty.Value{"name": cty.StringVal("limit")},
		Inputs: map[string]cty.Value{"value": cty.NumberIntVal(80)},
		Vars:   vars,
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(80).RawEquals(out["value"]))

	out, err = get.Run(context.Background(), &registry.Call{
		NodeID: "g",
		Config: map[string]cty.Value{"name": cty.StringVal("limit")},
		Vars:   vars,
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(80).RawEquals(out["value"]))
}

func TestGetFallsBackToDefault(t *testing.T) {
	t.Parallel()
	_, get := handlers(t)

	out, err := get.Run(context.Background(), &registry.Call{
		NodeID: "g",
		Config: map[string]cty.Value{
			"name":    cty.StringVal("missing"),
			"default": cty.StringVal("fallback"),
		},
		Vars: engine.NewVars(),
	})
	require.NoError(t, err)
	assert.True(t, cty.StringVal("fallback").RawEquals(out["value"]))
}

func TestGetUnsetWithoutDefaultFails(t *testing.T) {
	t.Parallel()
	_, get := handlers(t)

	_, err := get.Run(context.Background(), &registry.Call{
		NodeID: "g",
		Config: map[string]cty.Value{"name": cty.StringVal("missing")},
		Vars:   engine.NewVars(),
	})
	require.ErrorContains(t, err, "not set")
}
