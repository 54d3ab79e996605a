package opc

import (
	"context"
	"time"
)

// NodeClass mirrors the OPC-UA node class of a browse result.
type NodeClass int

const (
	ClassUnspecified NodeClass = 0
	ClassObject      NodeClass = 1
	ClassVariable    NodeClass = 2
	ClassMethod      NodeClass = 4
)

// String implements fmt.Stringer.
func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "object"
	case ClassVariable:
		return "variable"
	case ClassMethod:
		return "method"
	default:
		return "unspecified"
	}
}

// ReadResult is one item of a batched read. A bad per-item status does not
// fail the whole read.
type ReadResult struct {
	Value     any
	Status    uint32
	Timestamp time.Time
}

// Good reports whether the item carried a good status code.
func (r ReadResult) Good() bool { return r.Status == 0 }

// BrowseNode is one reference returned by a browse.
type BrowseNode struct {
	NodeID     string
	BrowseName string
	Class      NodeClass
}

// Notification is one data change delivered by a subscription.
type Notification struct {
	NodeID    string
	Value     any
	Timestamp time.Time
	Status    uint32
}

// TransportSub is the transport-level handle of a live subscription.
type TransportSub interface {
	Cancel(ctx context.Context) error
}

// Transport is the wire-level OPC-UA client for one endpoint. Implementations
// must translate their failures into *ProtocolError so the session layer can
// distinguish connection loss from per-operation failures.
type Transport interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Read batches all node ids into one protocol round trip and reports
	// per-item status.
	Read(ctx context.Context, nodeIDs []string) (map[string]ReadResult, error)
	// Write returns the status code of the write; a bad status is reported
	// as ErrWriteRejected by the caller.
	Write(ctx context.Context, nodeID string, v any) (uint32, error)
	// Browse returns the forward hierarchical references of a node,
	// following server-side paging until exhausted.
	Browse(ctx context.Context, nodeID string) ([]BrowseNode, error)
	Call(ctx context.Context, objectID, methodID string, args []any) ([]any, error)
	// Subscribe creates monitored items for the given nodes; notifications
	// are pushed into sink from a transport-owned goroutine. The sink must
	// never block.
	Subscribe(ctx context.Context, nodeIDs []string, sampling time.Duration, sink func(Notification)) (TransportSub, error)
}

// Dialer constructs an unconnected Transport for a session configuration.
// Swappable so tests can run against an in-memory transport.
type Dialer func(cfg SessionConfig) (Transport, error)
