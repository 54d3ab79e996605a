package engine

import (
	"time"

	"github.com/vk/opcflow/internal/graph"
)

// EventKind classifies a node lifecycle event.
type EventKind int

const (
	NodeStarted EventKind = iota
	NodeFinished
)

// NodeEvent is one node lifecycle notification. The run controller stamps
// run identity on top before forwarding to consumers.
type NodeEvent struct {
	Kind     EventKind
	Node     string
	Type     string
	Status   graph.Status
	Attempt  int
	Err      error
	Duration time.Duration
	Time     time.Time
}
