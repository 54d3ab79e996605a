// Package controller owns run lifecycles: it starts a workflow as a run
// with a fresh identity, streams its events, and supports single-shot and
// continuous execution modes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/ctxlog"
	"github.com/vk/opcflow/internal/engine"
	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/registry"
)

// Mode selects how often a run executes its graph.
type Mode int

const (
	// SingleShot executes the graph once.
	SingleShot Mode = iota
	// Continuous re-executes the graph until stopped, pausing Interval
	// between iterations. Sessions and subscriptions are reused across
	// iterations.
	Continuous
)

// DefaultInterval separates continuous iterations when none is configured.
const DefaultInterval = time.Second

// Options parameterize one run.
type Options struct {
	Mode     Mode
	Interval time.Duration
	Workers  int
	// Params seed the run's variable scope.
	Params map[string]cty.Value
}

// RunStatus is the lifecycle state of a run.
type RunStatus int

const (
	RunRunning RunStatus = iota
	RunSucceeded
	RunFailed
	RunStopped
)

// String implements fmt.Stringer.
func (s RunStatus) String() string {
	switch s {
	case RunRunning:
		return "running"
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	case RunStopped:
		return "stopped"
	default:
		return fmt.Sprintf("runstatus(%d)", int(s))
	}
}

// Controller starts and tracks runs against one registry and session pool.
type Controller struct {
	reg      *registry.Registry
	sessions *opc.Manager
	metrics  *engine.Metrics

	mu   sync.Mutex
	runs map[string]*Run
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMetrics attaches an instrumentation set shared with the engine.
func WithMetrics(m *engine.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// New builds a controller. Session events (reconnects, faults) are fanned
// out to every active run's event stream.
func New(reg *registry.Registry, sessions *opc.Manager, opts ...ControllerOption) *Controller {
	c := &Controller{reg: reg, sessions: sessions, runs: make(map[string]*Run)}
	for _, opt := range opts {
		opt(c)
	}
	if sessions != nil {
		sessions.OnEvent(c.onSessionEvent)
	}
	return c
}

func (c *Controller) onSessionEvent(ev opc.Event) {
	if c.metrics != nil && ev.Kind == opc.EventReconnected {
		c.metrics.Reconnects.Inc()
	}
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		kind := SessionReconnected
		if ev.Kind == opc.EventFaulted {
			kind = SessionFaulted
		}
		r.emit(Event{Kind: kind, RunID: r.ID, Endpoint: ev.Endpoint, Err: ev.Err})
	}
}

// Run looks up an active run by id.
func (c *Controller) Run(id string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	return r, ok
}

// Start validates the graph and launches a run. The run executes on its own
// goroutine; callers observe it through Events, Wait and Stop.
func (c *Controller) Start(ctx context.Context, g *graph.Graph, opts Options) (*Run, error) {
	if err := graph.Validate(g, c.reg); err != nil {
		return nil, err
	}
	if opts.Mode == Continuous && opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{
		ID:      uuid.NewString(),
		mode:    opts.Mode,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		cancel:  cancel,
		started: time.Now(),
	}
	r.status = RunRunning

	eng := engine.New(c.reg, c.sessions,
		engine.WithWorkers(opts.Workers),
		engine.WithMetrics(c.metrics),
		engine.WithNotify(func(ev engine.NodeEvent) { r.emitNode(ev) }),
		engine.WithGate(r.gate),
		engine.WithContinuous(opts.Mode == Continuous),
	)

	c.mu.Lock()
	c.runs[r.ID] = r
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveRuns.Inc()
	}

	logger := ctxlog.FromContext(ctx).With("run", r.ID)
	logger.Info("▶️ Starting run.", "mode", modeString(opts.Mode), "nodes", len(g.Nodes()))

	go c.drive(runCtx, logger, r, eng, g, opts)
	return r, nil
}

func modeString(m Mode) string {
	if m == Continuous {
		return "continuous"
	}
	return "single_shot"
}

func (c *Controller) drive(ctx context.Context, logger *slog.Logger, r *Run, eng *engine.Engine, g *graph.Graph, opts Options) {
	defer func() {
		c.mu.Lock()
		delete(c.runs, r.ID)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ActiveRuns.Dec()
			c.metrics.RunsTotal.WithLabelValues(r.Status().String()).Inc()
		}
		r.emit(Event{Kind: RunFinished, RunID: r.ID, RunStatus: r.Status(), Err: r.Err()})
		r.closeEvents()
		close(r.done)
	}()

	r.emit(Event{Kind: RunStarted, RunID: r.ID})

	for iteration := 1; ; iteration++ {
		res, err := eng.Execute(ctx, g, opts.Params)
		r.record(res, err)
		if err == nil && res != nil && res.Failed() {
			err = errors.New("one or more nodes failed")
		}

		if opts.Mode == SingleShot {
			switch {
			case ctx.Err() != nil:
				r.setStatus(RunStopped)
			case err != nil:
				r.setStatus(RunFailed)
				logger.Warn("Run failed.", "error", err)
			default:
				r.setStatus(RunSucceeded)
				logger.Info("✅ Run finished.")
			}
			return
		}

		r.emit(Event{Kind: IterationFinished, RunID: r.ID, Iteration: iteration, Err: err})
		if err != nil && ctx.Err() == nil {
			logger.Warn("Iteration failed, continuing.", "iteration", iteration, "error", err)
		}

		select {
		case <-ctx.Done():
			r.setStatus(RunStopped)
			logger.Info("✅ Run stopped.", "iterations", iteration)
			return
		case <-time.After(opts.Interval):
		}
	}
}

const eventBuffer = 1024

// Run is the handle of one launched workflow execution.
type Run struct {
	ID      string
	mode    Mode
	started time.Time

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	status  RunStatus
	result  *engine.Result
	lastErr error
	paused  bool
	resume  chan struct{}
	closed  bool

	stopOnce sync.Once
}

// Events returns the run's event stream. The channel closes after the final
// RunFinished event. Slow consumers lose events once the buffer is full.
func (r *Run) Events() <-chan Event { return r.events }

// Status returns the run's current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the most recent iteration's result, if any.
func (r *Run) Result() *engine.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Err returns the most recent iteration's error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Run) setStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *Run) record(res *engine.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = res
	r.lastErr = err
}

// Wait blocks until the run reaches a terminal state or ctx expires.
func (r *Run) Wait(ctx context.Context) (RunStatus, error) {
	select {
	case <-r.done:
		return r.Status(), nil
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
}

// Pause holds back new node dispatch. In-flight nodes run to completion;
// continuous iterations stall before their next group. No-op when already
// paused.
func (r *Run) Pause() {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	r.resume = make(chan struct{})
	r.mu.Unlock()
	r.emit(Event{Kind: RunPaused, RunID: r.ID})
}

// Resume lifts a pause. No-op when not paused.
func (r *Run) Resume() {
	r.mu.Lock()
	if !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	close(r.resume)
	r.resume = nil
	r.mu.Unlock()
	r.emit(Event{Kind: RunResumed, RunID: r.ID})
}

// Paused reports whether the run is holding back dispatch.
func (r *Run) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// gate blocks while the run is paused. Cancellation unblocks it so a paused
// run can still be stopped.
func (r *Run) gate(ctx context.Context) error {
	for {
		r.mu.Lock()
		ch := r.resume
		paused := r.paused
		r.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop requests a graceful stop and waits for the run to finish. In-flight
// nodes are cancelled through their contexts; ctx bounds how long to wait.
func (r *Run) Stop(ctx context.Context) error {
	r.stopOnce.Do(r.cancel)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("run %s did not stop in time: %w", r.ID, ctx.Err())
	}
}

// emit delivers an event without blocking. The send happens under the run
// mutex so a late Pause/Resume or session event cannot race the stream
// closing.
func (r *Run) emit(ev Event) {
	ev.Time = time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

func (r *Run) closeEvents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	close(r.events)
}

func (r *Run) emitNode(ev engine.NodeEvent) {
	kind := NodeStarted
	if ev.Kind == engine.NodeFinished {
		kind = NodeFinished
	}
	r.emit(Event{
		Kind:     kind,
		RunID:    r.ID,
		Node:     ev.Node,
		NodeType: ev.Type,
		Status:   ev.Status,
		Attempt:  ev.Attempt,
		Err:      ev.Err,
		Duration: ev.Duration,
	})
}
