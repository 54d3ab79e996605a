package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/engine"
	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
)

// testRegistry builds a registry with small arithmetic and control handlers
// used across the scheduler tests.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()

	r.Register(&registry.Handler{
		Type:   "emit",
		Schema: graph.Schema{Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}}},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			v, _ := call.ConfigValue("value")
			return map[string]cty.Value{"out": v}, nil
		},
	})
	r.Register(&registry.Handler{
		Type: "double",
		Schema: graph.Schema{
			Inputs:  []graph.PortDef{{Name: "in", Type: cty.Number}},
			Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}},
		},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			in := call.Inputs["in"]
			var n int64
			require.NoError(t, gocty(in, &n))
			return map[string]cty.Value{"out": cty.NumberIntVal(n * 2)}, nil
		},
	})
	r.Register(&registry.Handler{
		Type: "sink",
		Schema: graph.Schema{
			Inputs:  []graph.PortDef{{Name: "in", Type: cty.Number}},
			Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}},
		},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			return map[string]cty.Value{"out": call.Inputs["in"]}, nil
		},
	})
	return r
}

func gocty(v cty.Value, out *int64) error {
	bf := v.AsBigFloat()
	n, _ := bf.Int64()
	*out = n
	return nil
}

func mustNode(t *testing.T, g *graph.Graph, n *graph.Node) {
	t.Helper()
	require.NoError(t, g.AddNode(n))
}

func mustEdge(t *testing.T, g *graph.Graph, from, to string) {
	t.Helper()
	f, err := graph.ParsePortRef(from)
	require.NoError(t, err)
	d, err := graph.ParsePortRef(to)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(graph.Edge{From: f, To: d}))
}

func TestExecuteLinearPipeline(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "a", Type: "emit", Config: map[string]cty.Value{"value": cty.NumberIntVal(42)}})
	mustNode(t, g, &graph.Node{ID: "b", Type: "double"})
	mustNode(t, g, &graph.Node{ID: "c", Type: "sink"})
	mustEdge(t, g, "a.out", "b.in")
	mustEdge(t, g, "b.out", "c.in")

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, graph.StatusSucceeded, res.Statuses[id], id)
	}
	assert.True(t, cty.NumberIntVal(84).RawEquals(res.Outputs["c"]["out"]))
	assert.False(t, res.Failed())
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	t.Parallel()
	r := registry.New()
	var active, peak int64
	r.Register(&registry.Handler{
		Type: "slow",
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			cur := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil, nil
		},
	})

	g := graph.New()
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		mustNode(t, g, &graph.Node{ID: id, Type: "slow"})
	}

	eng := engine.New(r, nil, engine.WithWorkers(2))
	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2), "no more than two nodes in flight")
}

func TestHaltPolicyCancelsRemainder(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	r.Register(&registry.Handler{
		Type: "explode",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}},
		},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			return nil, errors.New("boom")
		},
	})

	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "bad", Type: "explode"})
	mustNode(t, g, &graph.Node{ID: "down", Type: "double"})
	mustEdge(t, g, "bad.out", "down.in")

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, res.Statuses["bad"])
	assert.Equal(t, graph.StatusCancelled, res.Statuses["down"])
	assert.ErrorContains(t, res.NodeErrs["bad"], "boom")
}

func TestSkipDownstreamSparesUnrelatedBranches(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	r.Register(&registry.Handler{
		Type: "explode",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}},
		},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			return nil, errors.New("boom")
		},
	})

	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "bad", Type: "explode", OnFailure: graph.FailurePolicy{Kind: graph.PolicySkipDownstream}})
	mustNode(t, g, &graph.Node{ID: "d1", Type: "double"})
	mustNode(t, g, &graph.Node{ID: "d2", Type: "sink"})
	mustNode(t, g, &graph.Node{ID: "other", Type: "emit", Config: map[string]cty.Value{"value": cty.NumberIntVal(1)}})
	mustNode(t, g, &graph.Node{ID: "otherSink", Type: "sink"})
	mustEdge(t, g, "bad.out", "d1.in")
	mustEdge(t, g, "d1.out", "d2.in")
	mustEdge(t, g, "other.out", "otherSink.in")

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err, "skip_downstream does not halt the run")

	assert.Equal(t, graph.StatusFailed, res.Statuses["bad"])
	assert.Equal(t, graph.StatusSkipped, res.Statuses["d1"])
	assert.Equal(t, graph.StatusSkipped, res.Statuses["d2"])
	assert.Equal(t, graph.StatusSucceeded, res.Statuses["other"])
	assert.Equal(t, graph.StatusSucceeded, res.Statuses["otherSink"])
	assert.True(t, res.Failed())
}

func TestRetryPolicyEventuallySucceeds(t *testing.T) {
	t.Parallel()
	r := registry.New()
	var tries int64
	r.Register(&registry.Handler{
		Type:   "flaky",
		Schema: graph.Schema{Outputs: []graph.PortDef{{Name: "out", Type: cty.Number}}},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			if atomic.AddInt64(&tries, 1) < 3 {
				return nil, errors.New("transient")
			}
			return map[string]cty.Value{"out": cty.NumberIntVal(7)}, nil
		},
	})

	var mu sync.Mutex
	var events []engine.NodeEvent
	eng := engine.New(r, nil, engine.WithNotify(func(ev engine.NodeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	g := graph.New()
	mustNode(t, g, &graph.Node{
		ID: "f", Type: "flaky",
		OnFailure: graph.FailurePolicy{Kind: graph.PolicyRetry, Attempts: 3, Backoff: time.Millisecond},
	})

	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, res.Statuses["f"])
	assert.EqualValues(t, 3, atomic.LoadInt64(&tries))

	mu.Lock()
	defer mu.Unlock()
	var finished *engine.NodeEvent
	for i := range events {
		if events[i].Kind == engine.NodeFinished && events[i].Node == "f" {
			finished = &events[i]
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, 3, finished.Attempt)
}

func TestRetryExhaustedHaltsRun(t *testing.T) {
	t.Parallel()
	r := registry.New()
	var tries int64
	r.Register(&registry.Handler{
		Type: "flaky",
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			atomic.AddInt64(&tries, 1)
			return nil, errors.New("still broken")
		},
	})

	g := graph.New()
	mustNode(t, g, &graph.Node{
		ID: "f", Type: "flaky",
		OnFailure: graph.FailurePolicy{Kind: graph.PolicyRetry, Attempts: 2, Backoff: time.Millisecond},
	})

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, res.Statuses["f"])
	assert.EqualValues(t, 2, atomic.LoadInt64(&tries))
}

func TestUntakenBranchOutputSkipsDownstream(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	r.Register(&registry.Handler{
		Type: "pick",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{
				{Name: "then", Type: cty.Number},
				{Name: "else", Type: cty.Number},
			},
		},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			// Emits only the taken path.
			return map[string]cty.Value{"then": cty.NumberIntVal(1)}, nil
		},
	})

	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "p", Type: "pick"})
	mustNode(t, g, &graph.Node{ID: "taken", Type: "sink"})
	mustNode(t, g, &graph.Node{ID: "untaken", Type: "sink"})
	mustEdge(t, g, "p.then", "taken.in")
	mustEdge(t, g, "p.else", "untaken.in")

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, res.Statuses["taken"])
	assert.Equal(t, graph.StatusSkipped, res.Statuses["untaken"])
	assert.False(t, res.Failed(), "an untaken branch is not a failure")
}

func TestSubgraphRunsInChildScope(t *testing.T) {
	t.Parallel()
	r := registry.New()
	r.Register(&registry.Handler{
		Type: "accumulate",
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			idx, ok := call.Vars.Get("i")
			require.True(t, ok, "iteration scope carries the index")
			var n int64
			require.NoError(t, gocty(idx, &n))
			call.Vars.Set("result", cty.NumberIntVal(n*10))
			return nil, nil
		},
	})
	r.Register(&registry.Handler{
		Type:   "repeat",
		Schema: graph.Schema{Outputs: []graph.PortDef{{Name: "last", Type: cty.Number}}},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			require.NotNil(t, call.Sub)
			var last cty.Value
			for i := 0; i < 3; i++ {
				locals, err := call.Sub.Run(ctx, map[string]cty.Value{"i": cty.NumberIntVal(int64(i))})
				if err != nil {
					return nil, err
				}
				last = locals["result"]
			}
			return map[string]cty.Value{"last": last}, nil
		},
	})

	body := graph.New()
	require.NoError(t, body.AddNode(&graph.Node{ID: "acc", Type: "accumulate"}))

	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "loop", Type: "repeat", Subgraph: body})

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(20).RawEquals(res.Outputs["loop"]["last"]))
}

func TestVarsShadowing(t *testing.T) {
	t.Parallel()
	root := engine.NewVars()
	root.Set("x", cty.NumberIntVal(1))
	root.Set("y", cty.NumberIntVal(2))

	child := root.Child()
	child.Set("x", cty.NumberIntVal(10))

	x, ok := child.Get("x")
	require.True(t, ok)
	assert.True(t, cty.NumberIntVal(10).RawEquals(x))

	y, ok := child.Get("y")
	require.True(t, ok)
	assert.True(t, cty.NumberIntVal(2).RawEquals(y), "reads fall through to the parent scope")

	x, ok = root.Get("x")
	require.True(t, ok)
	assert.True(t, cty.NumberIntVal(1).RawEquals(x), "child writes do not leak upward")

	locals := child.Locals()
	assert.Len(t, locals, 1)
}

func TestExecuteSeedsParams(t *testing.T) {
	t.Parallel()
	r := registry.New()
	r.Register(&registry.Handler{
		Type:   "readvar",
		Schema: graph.Schema{Outputs: []graph.PortDef{{Name: "out", Type: cty.String}}},
		Run: func(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
			v, ok := call.Vars.Get("station")
			if !ok {
				return nil, errors.New("station not set")
			}
			return map[string]cty.Value{"out": v}, nil
		},
	})

	g := graph.New()
	mustNode(t, g, &graph.Node{ID: "r", Type: "readvar"})

	eng := engine.New(r, nil)
	res, err := eng.Execute(context.Background(), g, map[string]cty.Value{"station": cty.StringVal("press-7")})
	require.NoError(t, err)
	assert.True(t, cty.StringVal("press-7").RawEquals(res.Outputs["r"]["out"]))
}
