package opcuaread_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/testutil"
	"github.com/vk/opcflow/modules/opcuaread"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	opcuaread.Register(r)
	h, ok := r.Handler("opcua_read")
	require.True(t, ok)
	return h
}

func TestReadReturnsValue(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	server.SetValue("ns=2;s=Temp", 21.5)
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "read",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Temp"),
		},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberFloatVal(21.5).RawEquals(out["value"]))
	assert.NotEmpty(t, out["timestamp"].AsString())
}

func TestReadWiredNodeIDOverridesConfig(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	server.SetValue("ns=2;s=Other", int64(5))
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "read",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Temp"),
		},
		Inputs: map[string]cty.Value{
			"node_id": cty.StringVal("ns=2;s=Other"),
		},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(5).RawEquals(out["value"]))
}

func TestReadBadStatusFails(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "read",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Missing"),
		},
	})
	require.ErrorContains(t, err, "bad status")
}

func TestReadRequiresNodeID(t *testing.T) {
	t.Parallel()
	mgr := opc.NewManager(testutil.NewFakeServer().Dialer())
	defer mgr.Close(context.Background())

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "read",
		Sessions: mgr,
		Config:   map[string]cty.Value{"endpoint": cty.StringVal("opc.tcp://plc:4840")},
	})
	require.ErrorContains(t, err, "node_id")
}
