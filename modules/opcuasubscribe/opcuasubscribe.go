// Package opcuasubscribe monitors server variables for a bounded window and
// emits the data changes that arrived.
package opcuasubscribe

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// DefaultSampling matches the common server publish interval.
const DefaultSampling = 500 * time.Millisecond

// DefaultWindow is how long the node collects before draining.
const DefaultWindow = 2 * time.Second

// Register wires the opcua_subscribe node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "opcua_subscribe",
		Schema: graph.Schema{
			Outputs: []graph.PortDef{
				{Name: "notifications", Type: cty.DynamicPseudoType},
				{Name: "count", Type: cty.Number},
				{Name: "dropped", Type: cty.Number},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	cfg, err := call.SessionConfig()
	if err != nil {
		return nil, err
	}
	nodeIDs, err := nodeIDList(call)
	if err != nil {
		return nil, err
	}

	sampling := DefaultSampling
	if s := value.GetString(call.Config, "sampling"); s != "" {
		if sampling, err = time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid sampling: %w", err)
		}
	}
	window := DefaultWindow
	if s := value.GetString(call.Config, "window"); s != "" {
		if window, err = time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid window: %w", err)
		}
	}
	queueCap := int(value.GetInt(call.Config, "queue_capacity", 0))

	sess, err := call.Sessions.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer call.Sessions.Release(ctx, sess)

	sub, err := sess.Subscribe(ctx, nodeIDs, sampling, queueCap)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Unsubscribe(context.WithoutCancel(ctx), sub) }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(window):
	}

	drained := sub.Drain()
	items := make([]any, 0, len(drained))
	for _, n := range drained {
		items = append(items, map[string]any{
			"node_id":   n.NodeID,
			"value":     n.Value,
			"timestamp": n.Timestamp,
		})
	}
	notifications, err := value.FromGo(items)
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{
		"notifications": notifications,
		"count":         cty.NumberIntVal(int64(len(drained))),
		"dropped":       cty.NumberIntVal(int64(sub.Dropped())),
	}, nil
}

func nodeIDList(call *registry.Call) ([]string, error) {
	if v, ok := call.Config["node_ids"]; ok && !v.IsNull() && v.CanIterateElements() {
		var out []string
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if ev.Type() != cty.String {
				return nil, fmt.Errorf("node_ids must be strings")
			}
			out = append(out, ev.AsString())
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if s := value.GetString(call.Config, "node_id"); s != "" {
		return []string{s}, nil
	}
	return nil, fmt.Errorf("set config \"node_id\" or \"node_ids\"")
}
