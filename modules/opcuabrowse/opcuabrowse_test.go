package opcuabrowse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/testutil"
	"github.com/vk/opcflow/modules/opcuabrowse"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	opcuabrowse.Register(r)
	h, ok := r.Handler("opcua_browse")
	require.True(t, ok)
	return h
}

func TestBrowseListsChildren(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	server.SetChildren("ns=2;s=Press", []opc.BrowseNode{
		{NodeID: "ns=2;s=Press.Status", BrowseName: "Status", Class: opc.ClassVariable},
		{NodeID: "ns=2;s=Press.Start", BrowseName: "Start", Class: opc.ClassMethod},
	})
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "browse",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Press"),
		},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(2).RawEquals(out["count"]))

	nodes := out["nodes"]
	require.Equal(t, 2, nodes.LengthInt())
	first := nodes.Index(cty.NumberIntVal(0))
	assert.Equal(t, "ns=2;s=Press.Status", first.GetAttr("node_id").AsString())
	assert.Equal(t, "Status", first.GetAttr("browse_name").AsString())
	assert.Equal(t, "variable", first.GetAttr("class").AsString())
}

func TestBrowseDefaultsToObjectsFolder(t *testing.T) {
	t.Parallel()
	server := testutil.NewFakeServer()
	server.SetChildren(opcuabrowse.ObjectsFolder, []opc.BrowseNode{
		{NodeID: "ns=2;s=Press", BrowseName: "Press", Class: opc.ClassObject},
	})
	mgr := opc.NewManager(server.Dialer())
	defer mgr.Close(context.Background())

	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "browse",
		Sessions: mgr,
		Config:   map[string]cty.Value{"endpoint": cty.StringVal("opc.tcp://plc:4840")},
	})
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(1).RawEquals(out["count"]))
}

func TestBrowseUnknownNodeFails(t *testing.T) {
	t.Parallel()
	mgr := opc.NewManager(testutil.NewFakeServer().Dialer())
	defer mgr.Close(context.Background())

	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID:   "browse",
		Sessions: mgr,
		Config: map[string]cty.Value{
			"endpoint": cty.StringVal("opc.tcp://plc:4840"),
			"node_id":  cty.StringVal("ns=2;s=Nope"),
		},
	})
	require.Error(t, err)
}
