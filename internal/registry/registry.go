// Package registry maps node types to their handlers. Modules register
// handlers at startup; the engine resolves them by node type at run time.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/opc"
)

// Vars is the shared variable store of one run. Loop iterations layer their
// own scope on top of the run scope.
type Vars interface {
	Set(name string, v cty.Value)
	Get(name string) (cty.Value, bool)
}

// SubRunner executes a node's subgraph once. The engine hands one to
// handlers of nodes that carry a subgraph.
type SubRunner interface {
	// Run executes the subgraph with seed values bound to its entry ports
	// and returns the values of its exit ports.
	Run(ctx context.Context, seed map[string]cty.Value) (map[string]cty.Value, error)
}

// Call carries everything a handler may need for one node execution.
type Call struct {
	NodeID string
	// Config holds the node's static configuration values.
	Config map[string]cty.Value
	// Inputs holds one value per connected input port.
	Inputs map[string]cty.Value
	// Sessions acquires shared OPC-UA sessions. Nil for nodes that do not
	// talk to a server.
	Sessions *opc.Manager
	// Vars is the run's variable store.
	Vars Vars
	// Sub runs the node's subgraph; nil unless the node has one.
	Sub SubRunner
	// Continuous reports whether the node runs inside a continuous loop.
	// It widens the session reconnect budget: a looping run rides out long
	// outages, a one-off run fails fast.
	Continuous bool
}

// ConfigValue returns a config value, checking inputs first so a wired port
// overrides the static setting.
func (c *Call) ConfigValue(name string) (cty.Value, bool) {
	if v, ok := c.Inputs[name]; ok {
		return v, true
	}
	v, ok := c.Config[name]
	return v, ok
}

// RunFunc executes one node and returns a value per output port.
type RunFunc func(ctx context.Context, call *Call) (map[string]cty.Value, error)

// Handler is the registered implementation of one node type.
type Handler struct {
	Type   string
	Schema graph.Schema
	Run    RunFunc
}

// Module contributes one or more handlers to a registry.
type Module interface {
	Register(r *Registry)
}

// Registry is the process-wide table of node handlers. Registration
// conflicts are programmer errors and panic.
type Registry struct {
	handlers map[string]*Handler
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Register adds a handler. Panics on a duplicate type or a nil Run.
func (r *Registry) Register(h *Handler) {
	if h.Type == "" {
		panic("registry: handler with empty type")
	}
	if h.Run == nil {
		panic(fmt.Sprintf("registry: handler %q has no run function", h.Type))
	}
	if _, exists := r.handlers[h.Type]; exists {
		panic(fmt.Sprintf("registry: duplicate handler for type %q", h.Type))
	}
	r.handlers[h.Type] = h
}

// Handler resolves a node type.
func (r *Registry) Handler(typ string) (*Handler, bool) {
	h, ok := r.handlers[typ]
	return h, ok
}

// Types returns all registered node types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NodeSchema implements graph.SchemaSource.
func (r *Registry) NodeSchema(typ string) (graph.Schema, bool) {
	h, ok := r.handlers[typ]
	if !ok {
		return graph.Schema{}, false
	}
	return h.Schema, true
}
