package opcuasubscribe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/testutil"
	"github.com/vk/opcflow/modules/opcuasubscribe"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	opcuasubscribe.Register(r)
	h, ok := r.Handler("opcua_subscribe")
	require.True(t, ok)
	return h
}

func TestSubscribeCollectsNotifications(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	done := make(chan struct{})
	var out map[string]cty.Value
	var runErr error
	go func() {
		defer close(done)
		out, runErr = handler(t).Run(context.Background(), &registry.Call{
			NodeID:   "watch",
			Sessions: mgr,
			Config: map[string]cty.Value{
				"endpoint": cty.StringVal("opc.tcp://plc:4840"),
				"node_ids": cty.ListVal([]cty.Value{cty.StringVal("ns=2;s=Temp")}),
				"sampling": cty.StringVal("10ms"),
				"window":   cty.StringVal("150ms"),
			},
		})
	}()

	require.Eventually(t, func() bool { return server.LiveSubs() == 1 }, 2*time.Second, time.Millisecond)
	server.Notify("ns=2;s=Temp", 20.0)
	server.Notify("ns=2;s=Temp", 21.0)
	server.Notify("ns=2;s=Other", 99.0) // not monitored

	<-done
	require.NoError(t, runErr)

	var count int64
	count, _ = out["count"].AsBigFloat().Int64()
	assert.EqualValues(t, 2, count)
	assert.Equal(t, 2, out["notifications"].LengthInt())

	dropped, _ := out["dropped"].AsBigFloat().Int64()
	assert.Zero(t, dropped)
	assert.Zero(t, server.LiveSubs(), "subscription is released after the window")
}

func TestSubscribeRequiresNodeIDs(t *testing.T) {
	t.Parallel()
	mgr := opc.NewManager(testutil.NewFakeServer().Dialer())
	defer mgr.Close(context.Background())

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "watch",
		Sessions: mgr,
		Config:   map[string]cty.Value{"endpoint": cty.StringVal("opc.tcp://plc:4840")},
	})
	require.ErrorContains(t, err, "node_id")
}
