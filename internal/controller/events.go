package controller

import (
	"time"

	"github.com/vk/opcflow/internal/graph"
)

// EventKind classifies a run event.
type EventKind int

const (
	// RunStarted is the first event on every stream.
	RunStarted EventKind = iota
	// NodeStarted and NodeFinished mirror the engine's node lifecycle.
	NodeStarted
	NodeFinished
	// IterationFinished fires after each continuous-mode iteration.
	IterationFinished
	// RunPaused and RunResumed mirror Pause/Resume calls on the run.
	RunPaused
	RunResumed
	// SessionReconnected and SessionFaulted surface OPC-UA session
	// recoveries to run consumers.
	SessionReconnected
	SessionFaulted
	// RunFinished is the last event before the stream closes.
	RunFinished
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case RunStarted:
		return "run_started"
	case NodeStarted:
		return "node_started"
	case NodeFinished:
		return "node_finished"
	case IterationFinished:
		return "iteration_finished"
	case RunPaused:
		return "run_paused"
	case RunResumed:
		return "run_resumed"
	case SessionReconnected:
		return "session_reconnected"
	case SessionFaulted:
		return "session_faulted"
	case RunFinished:
		return "run_finished"
	default:
		return "unknown"
	}
}

// Event is one entry in a run's event stream. Fields beyond Kind, RunID and
// Time are populated per kind.
type Event struct {
	Kind  EventKind
	RunID string
	Time  time.Time

	// Node events.
	Node     string
	NodeType string
	Status   graph.Status
	Attempt  int
	Duration time.Duration

	// Iteration and run completion.
	Iteration int
	RunStatus RunStatus
	Err       error

	// Session events.
	Endpoint string
}
