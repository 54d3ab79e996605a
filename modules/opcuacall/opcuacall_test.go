package opcuacall_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/testutil"
	"github.com/vk/opcflow/modules/opcuacall"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	opcuacall.Register(r)
	h, ok := r.Handler("opcua_call")
	require.True(t, ok)
	return h
}

func startServer(t *testing.T) (*testutil.FakeServer, *opc.Manager) {
	t.Helper()
	server := testutil.NewFakeServer()
	server.SetChildren("ns=2;s=Press", []opc.BrowseNode{
		{NodeID: "ns=2;s=Press.Status", BrowseName: "Status", Class: opc.ClassVariable},
		{NodeID: "ns=2;s=Press.Start", BrowseName: "Start", Class: opc.ClassMethod},
	})
	server.SetMethod("ns=2;s=Press.Start", func(args []any) ([]any, error) {
		return []any{"started"}, nil
	})
	mgr := opc.NewManager(server.Dialer())
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return server, mgr
}

func TestCallResolvesMethodByBrowseName(t *testing.T) {
	t.Parallel()
	server, mgr := startServer(t)

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "start",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint":  cty.StringVal("opc.tcp://plc:4840"),
			"object_id": cty.StringVal("ns=2;s=Press"),
			"method":    cty.StringVal("Start"),
		},
	})
	require.NoError(t, err)
	assert.True(t, cty.TupleVal([]cty.Value{cty.StringVal("started")}).RawEquals(out["results"]))

	calls := server.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ns=2;s=Press", calls[0].ObjectID)
	assert.Equal(t, "ns=2;s=Press.Start", calls[0].MethodID)
}

func TestCallPassesArguments(t *testing.T) {
	t.Parallel()
	server, mgr := startServer(t)

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "start",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint":  cty.StringVal("opc.tcp://plc:4840"),
			"object_id": cty.StringVal("ns=2;s=Press"),
			"method_id": cty.StringVal("ns=2;s=Press.Start"),
		},
		Inputs: map[string]cty.Value{
			"args": cty.TupleVal([]cty.Value{cty.NumberIntVal(3), cty.StringVal("soft")}),
		},
	})
	require.NoError(t, err)

	calls := server.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Args, 2)
	assert.EqualValues(t, 3, calls[0].Args[0])
	assert.Equal(t, "soft", calls[0].Args[1])
}

func TestCallUnknownMethodFails(t *testing.T) {
	t.Parallel()
	_, mgr := startServer(t)

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "start",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint":  cty.StringVal("opc.tcp://plc:4840"),
			"object_id": cty.StringVal("ns=2;s=Press"),
			"method":    cty.StringVal("SelfDestruct"),
		},
	})
	require.ErrorContains(t, err, "no method")
}
