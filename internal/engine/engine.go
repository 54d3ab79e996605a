// Package engine executes a compiled workflow plan: it dispatches ready
// groups with bounded concurrency, moves port values along edges, and
// applies per-node failure policies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"golang.org/x/sync/errgroup"

	"github.com/vk/opcflow/internal/ctxlog"
	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
)

// DefaultWorkers bounds node concurrency when no limit is configured.
const DefaultWorkers = 4

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the maximum number of nodes executing concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetrics attaches an instrumentation set.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotify attaches a node event sink. The sink runs on engine goroutines
// and must not block.
func WithNotify(fn func(NodeEvent)) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithGate installs a dispatch gate, consulted before each ready group. A
// gate that blocks pauses the run between groups; in-flight nodes finish.
func WithGate(fn func(context.Context) error) Option {
	return func(e *Engine) { e.gate = fn }
}

// WithContinuous marks executions as iterations of a continuous run, which
// widens session reconnect defaults for the nodes.
func WithContinuous(on bool) Option {
	return func(e *Engine) { e.continuous = on }
}

// Engine executes workflow graphs against a handler registry and a shared
// session manager. Safe for concurrent runs.
type Engine struct {
	reg      *registry.Registry
	sessions *opc.Manager
	workers    int
	metrics    *Metrics
	notify     func(NodeEvent)
	gate       func(context.Context) error
	continuous bool
}

// New builds an engine.
func New(reg *registry.Registry, sessions *opc.Manager, opts ...Option) *Engine {
	e := &Engine{reg: reg, sessions: sessions, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one graph execution.
type Result struct {
	Statuses map[string]graph.Status
	Outputs  map[string]map[string]cty.Value
	NodeErrs map[string]error
	// Err is set when the run halted: a halting node failure, a retry
	// budget exhausted, or cancellation.
	Err error
}

// Failed reports whether any node failed or the run halted.
func (r *Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, s := range r.Statuses {
		if s == graph.StatusFailed {
			return true
		}
	}
	return false
}

// Execute validates and compiles the graph, then runs it to completion.
// params seed the run's variable scope. The returned Result is populated
// even when err is non-nil, as long as compilation succeeded.
func (e *Engine) Execute(ctx context.Context, g *graph.Graph, params map[string]cty.Value) (*Result, error) {
	if err := graph.Validate(g, e.reg); err != nil {
		return nil, err
	}
	plan, err := graph.CompilePlan(g)
	if err != nil {
		return nil, err
	}

	vars := NewVars()
	for k, v := range params {
		vars.Set(k, v)
	}
	return e.exec(ctx, g, plan, vars)
}

func (e *Engine) exec(ctx context.Context, g *graph.Graph, plan *graph.Plan, vars *Vars) (*Result, error) {
	st := newRunState(g, plan)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := ctxlog.FromContext(ctx)
	for i, group := range plan.Groups {
		if e.gate != nil {
			// A gate error means the run was cancelled while paused; the
			// remaining nodes observe runCtx and finish as Cancelled.
			_ = e.gate(runCtx)
		}
		logger.Debug("Dispatching ready group.", "group", i, "nodes", len(group))
		eg := new(errgroup.Group)
		eg.SetLimit(e.workers)
		for _, id := range group {
			id := id
			eg.Go(func() error {
				e.runNode(runCtx, cancel, st, vars, id)
				return nil
			})
		}
		_ = eg.Wait()
	}

	res := st.result()
	return res, res.Err
}

func (e *Engine) emit(ev NodeEvent) {
	if e.notify != nil {
		ev.Time = time.Now()
		e.notify(ev)
	}
}

func (e *Engine) finishNode(st *runState, n *graph.Node, status graph.Status, attempt int, err error, dur time.Duration) {
	st.setStatus(n.ID, status)
	if err != nil {
		st.setErr(n.ID, err)
	}
	e.emit(NodeEvent{Kind: NodeFinished, Node: n.ID, Type: n.Type, Status: status, Attempt: attempt, Err: err, Duration: dur})
	if e.metrics != nil {
		e.metrics.NodesTotal.WithLabelValues(n.Type, status.String()).Inc()
		if status == graph.StatusSucceeded || status == graph.StatusFailed {
			e.metrics.NodeDuration.WithLabelValues(n.Type).Observe(dur.Seconds())
		}
	}
}

func (e *Engine) runNode(ctx context.Context, halt context.CancelFunc, st *runState, vars *Vars, id string) {
	n, ok := st.g.Node(id)
	if !ok {
		return
	}
	logger := ctxlog.FromContext(ctx).With("node", id, "type", n.Type)

	if st.isSkipped(id) {
		e.finishNode(st, n, graph.StatusSkipped, 0, nil, 0)
		return
	}
	if ctx.Err() != nil {
		e.finishNode(st, n, graph.StatusCancelled, 0, nil, 0)
		return
	}

	h, ok := e.reg.Handler(n.Type)
	if !ok {
		// Validate catches this before execution; kept as a hard stop.
		st.setHalt(fmt.Errorf("no handler for node type %q", n.Type))
		halt()
		e.finishNode(st, n, graph.StatusFailed, 0, fmt.Errorf("no handler for node type %q", n.Type), 0)
		return
	}

	inputs, ready := st.gatherInputs(n, h.Schema)
	if !ready {
		logger.Debug("Upstream unavailable, skipping node.")
		e.finishNode(st, n, graph.StatusSkipped, 0, nil, 0)
		return
	}

	st.setStatus(id, graph.StatusRunning)
	e.emit(NodeEvent{Kind: NodeStarted, Node: id, Type: n.Type, Status: graph.StatusRunning})
	start := time.Now()

	call := &registry.Call{
		NodeID:     id,
		Config:     n.Config,
		Inputs:     inputs,
		Sessions:   e.sessions,
		Vars:       vars,
		Continuous: e.continuous,
	}
	if n.Subgraph != nil {
		call.Sub = &subRunner{eng: e, g: n.Subgraph, plan: st.plan.Sub[id], vars: vars}
	}

	policy := n.OnFailure
	attempts := 1
	if policy.Kind == graph.PolicyRetry && policy.Attempts > 1 {
		attempts = policy.Attempts
	}

	var (
		outputs map[string]cty.Value
		err     error
		attempt int
	)
	for attempt = 1; attempt <= attempts; attempt++ {
		outputs, err = h.Run(ctx, call)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			delay := policy.Backoff
			if delay <= 0 {
				delay = time.Second
			}
			logger.Warn("Node failed, retrying.", "attempt", attempt, "of", attempts, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	dur := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			e.finishNode(st, n, graph.StatusCancelled, attempt, nil, dur)
			return
		}
		switch policy.Kind {
		case graph.PolicySkipDownstream:
			logger.Warn("Node failed, skipping downstream.", "error", err)
			st.skipAll(st.g.Descendants(id))
			e.finishNode(st, n, graph.StatusFailed, attempt, err, dur)
		default:
			logger.Error("Node failed, halting run.", "error", err)
			st.setHalt(fmt.Errorf("node %q failed: %w", id, err))
			halt()
			e.finishNode(st, n, graph.StatusFailed, attempt, err, dur)
		}
		return
	}

	conformed, cerr := conformOutputs(h.Schema, outputs)
	if cerr != nil {
		cerr = fmt.Errorf("node %q outputs: %w", id, cerr)
		st.setHalt(cerr)
		halt()
		e.finishNode(st, n, graph.StatusFailed, attempt, cerr, dur)
		return
	}

	st.succeed(id, conformed)
	e.finishNode(st, n, graph.StatusSucceeded, attempt, nil, dur)
}

// conformOutputs converts handler outputs to the declared port types and
// rejects ports the schema does not declare.
func conformOutputs(schema graph.Schema, outputs map[string]cty.Value) (map[string]cty.Value, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	out := make(map[string]cty.Value, len(outputs))
	for name, v := range outputs {
		def, ok := schema.Output(name)
		if !ok {
			return nil, fmt.Errorf("undeclared output port %q", name)
		}
		if def.Type != cty.DynamicPseudoType && !v.Type().Equals(def.Type) {
			conv, err := convert.Convert(v, def.Type)
			if err != nil {
				return nil, fmt.Errorf("port %q: %w", name, err)
			}
			v = conv
		}
		out[name] = v
	}
	return out, nil
}

// subRunner executes a node's subgraph once per Run call, in a child
// variable scope seeded by the caller.
type subRunner struct {
	eng  *Engine
	g    *graph.Graph
	plan *graph.Plan
	vars *Vars
}

func (s *subRunner) Run(ctx context.Context, seed map[string]cty.Value) (map[string]cty.Value, error) {
	scope := s.vars.Child()
	for k, v := range seed {
		scope.Set(k, v)
	}
	res, err := s.eng.exec(ctx, s.g, s.plan, scope)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, errors.New("subgraph completed with failures")
	}
	return scope.Locals(), nil
}

// runState is the mutable state of one graph execution.
type runState struct {
	g    *graph.Graph
	plan *graph.Plan

	mu       sync.Mutex
	statuses map[string]graph.Status
	values   map[graph.PortRef]cty.Value
	nodeErrs map[string]error
	skipped  map[string]bool
	halt     error
}

func newRunState(g *graph.Graph, plan *graph.Plan) *runState {
	st := &runState{
		g:        g,
		plan:     plan,
		statuses: make(map[string]graph.Status),
		values:   make(map[graph.PortRef]cty.Value),
		nodeErrs: make(map[string]error),
		skipped:  make(map[string]bool),
	}
	for _, n := range g.Nodes() {
		st.statuses[n.ID] = graph.StatusIdle
	}
	return st
}

func (st *runState) setStatus(id string, s graph.Status) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.statuses[id] = s
}

func (st *runState) setErr(id string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nodeErrs[id] = err
}

func (st *runState) isSkipped(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.skipped[id]
}

func (st *runState) skipAll(ids []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range ids {
		st.skipped[id] = true
	}
}

func (st *runState) setHalt(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.halt == nil {
		st.halt = err
	}
}

func (st *runState) succeed(id string, outputs map[string]cty.Value) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.statuses[id] = graph.StatusSucceeded
	for port, v := range outputs {
		st.values[graph.PortRef{Node: id, Port: port}] = v
	}
}

// gatherInputs collects the values feeding a node's input ports. It reports
// not-ready when a required upstream value is unavailable, either because
// the source node did not succeed or because it did not emit the port
// (an untaken branch path).
func (st *runState) gatherInputs(n *graph.Node, schema graph.Schema) (map[string]cty.Value, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	inputs := make(map[string]cty.Value)
	for _, port := range schema.Inputs {
		edge, wired := st.g.EdgeInto(graph.PortRef{Node: n.ID, Port: port.Name})
		if !wired {
			continue
		}
		if st.statuses[edge.From.Node] != graph.StatusSucceeded {
			if port.Optional {
				continue
			}
			return nil, false
		}
		v, present := st.values[edge.From]
		if !present {
			if port.Optional {
				continue
			}
			return nil, false
		}
		inputs[port.Name] = v
	}
	return inputs, true
}

func (st *runState) result() *Result {
	st.mu.Lock()
	defer st.mu.Unlock()

	res := &Result{
		Statuses: make(map[string]graph.Status, len(st.statuses)),
		Outputs:  make(map[string]map[string]cty.Value),
		NodeErrs: make(map[string]error, len(st.nodeErrs)),
		Err:      st.halt,
	}
	for id, s := range st.statuses {
		res.Statuses[id] = s
	}
	for id, err := range st.nodeErrs {
		res.NodeErrs[id] = err
	}
	for ref, v := range st.values {
		m := res.Outputs[ref.Node]
		if m == nil {
			m = make(map[string]cty.Value)
			res.Outputs[ref.Node] = m
		}
		m[ref.Port] = v
	}
	return res
}
