package opcuawrite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/testutil"
	"github.com/vk/opcflow/modules/opcuawrite"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	opcuawrite.Register(r)
	h, ok := r.Handler("opcua_write")
	require.True(t, ok)
	return h
}

func TestWriteSendsWiredValue(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "write",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Setpoint"),
		},
		Inputs: map[string]cty.Value{
			"value": cty.NumberIntVal(42),
		},
	})
	require.NoError(t, err)
	assert.True(t, out["done"].True())

	writes := server.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "ns=2;s=Setpoint", writes[0].NodeID)
	assert.EqualValues(t, 42, writes[0].Value)
}

func TestWriteRequiresValue(t *testing.T) {
	t.Parallel()
	mgr := opc.NewManager(testutil.NewFakeServer().Dialer())
	defer mgr.Close(context.Background())

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "write",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Setpoint"),
		},
	})
	require.ErrorContains(t, err, "value")
}
