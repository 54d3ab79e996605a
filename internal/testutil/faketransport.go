package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/opcflow/internal/opc"
)

// FakeServer is an in-memory OPC-UA endpoint shared by the FakeTransports
// dialed against it. Tests script values, method handlers and failures, and
// inspect the writes and calls that landed.
type FakeServer struct {
	mu sync.Mutex

	values   map[string]any
	children map[string][]opc.BrowseNode
	methods  map[string]func(args []any) ([]any, error)

	connectErrs []error // consumed one per Connect
	opErr       error   // returned by every operation until cleared

	writes []WriteRecord
	calls  []CallRecord

	dials int
	sinks []*fakeSub
}

// WriteRecord is one write observed by the server.
type WriteRecord struct {
	NodeID string
	Value  any
}

// CallRecord is one method call observed by the server.
type CallRecord struct {
	ObjectID string
	MethodID string
	Args     []any
}

// NewFakeServer returns an empty server.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		values:   make(map[string]any),
		children: make(map[string][]opc.BrowseNode),
		methods:  make(map[string]func(args []any) ([]any, error)),
	}
}

// Dialer returns an opc.Dialer that connects transports to this server.
func (f *FakeServer) Dialer() opc.Dialer {
	return func(cfg opc.SessionConfig) (opc.Transport, error) {
		f.mu.Lock()
		f.dials++
		f.mu.Unlock()
		return &FakeTransport{server: f, endpoint: cfg.Endpoint}, nil
	}
}

// SetValue scripts the value returned by reads of nodeID.
func (f *FakeServer) SetValue(nodeID string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[nodeID] = v
}

// SetChildren scripts the browse results under nodeID.
func (f *FakeServer) SetChildren(nodeID string, refs []opc.BrowseNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[nodeID] = refs
}

// SetMethod scripts a method handler.
func (f *FakeServer) SetMethod(methodID string, fn func(args []any) ([]any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[methodID] = fn
}

// FailNextConnects queues errs to be returned by the next Connect calls.
func (f *FakeServer) FailNextConnects(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

// FailOperations makes every operation return err until cleared with nil.
func (f *FakeServer) FailOperations(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opErr = err
}

// Notify pushes a data change into every live subscription monitoring nodeID.
func (f *FakeServer) Notify(nodeID string, v any) {
	f.mu.Lock()
	sinks := append([]*fakeSub(nil), f.sinks...)
	f.mu.Unlock()
	for _, s := range sinks {
		s.notify(nodeID, v)
	}
}

// Writes returns the writes observed so far.
func (f *FakeServer) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteRecord(nil), f.writes...)
}

// Calls returns the method calls observed so far.
func (f *FakeServer) Calls() []CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CallRecord(nil), f.calls...)
}

// Dials returns how many transports were dialed.
func (f *FakeServer) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// LiveSubs returns the number of live transport subscriptions.
func (f *FakeServer) LiveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

func (f *FakeServer) dropSub(s *fakeSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.sinks {
		if cur == s {
			f.sinks = append(f.sinks[:i], f.sinks[i+1:]...)
			return
		}
	}
}

// FakeTransport implements opc.Transport against a FakeServer.
type FakeTransport struct {
	server   *FakeServer
	endpoint string
	closed   bool
	mu       sync.Mutex
}

func (t *FakeTransport) checkOp() error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return &opc.ProtocolError{Kind: opc.ErrSessionNotConnected, Endpoint: t.endpoint, ConnectionLost: true}
	}
	t.server.mu.Lock()
	err := t.server.opErr
	t.server.mu.Unlock()
	return err
}

// Connect consumes a scripted connect failure, if any.
func (t *FakeTransport) Connect(ctx context.Context) error {
	t.server.mu.Lock()
	defer t.server.mu.Unlock()
	if len(t.server.connectErrs) > 0 {
		err := t.server.connectErrs[0]
		t.server.connectErrs = t.server.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

// Close marks the transport dead and drops its subscriptions, as a real
// server does when the secure channel goes away.
func (t *FakeTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.server.mu.Lock()
	kept := t.server.sinks[:0]
	for _, s := range t.server.sinks {
		if s.tr != t {
			kept = append(kept, s)
		}
	}
	t.server.sinks = kept
	t.server.mu.Unlock()
	return nil
}

// Read returns the scripted values. Unscripted nodes report a bad status.
func (t *FakeTransport) Read(ctx context.Context, nodeIDs []string) (map[string]opc.ReadResult, error) {
	if err := t.checkOp(); err != nil {
		return nil, err
	}
	t.server.mu.Lock()
	defer t.server.mu.Unlock()
	out := make(map[string]opc.ReadResult, len(nodeIDs))
	for _, id := range nodeIDs {
		v, ok := t.server.values[id]
		if !ok {
			out[id] = opc.ReadResult{Status: 0x80340000, Timestamp: time.Now()} // BadNodeIdUnknown
			continue
		}
		out[id] = opc.ReadResult{Value: v, Timestamp: time.Now()}
	}
	return out, nil
}

// Write records the write and updates the scripted value.
func (t *FakeTransport) Write(ctx context.Context, nodeID string, v any) (uint32, error) {
	if err := t.checkOp(); err != nil {
		return 0, err
	}
	t.server.mu.Lock()
	defer t.server.mu.Unlock()
	t.server.writes = append(t.server.writes, WriteRecord{NodeID: nodeID, Value: v})
	t.server.values[nodeID] = v
	return 0, nil
}

// Browse returns the scripted children.
func (t *FakeTransport) Browse(ctx context.Context, nodeID string) ([]opc.BrowseNode, error) {
	if err := t.checkOp(); err != nil {
		return nil, err
	}
	t.server.mu.Lock()
	defer t.server.mu.Unlock()
	refs, ok := t.server.children[nodeID]
	if !ok {
		return nil, &opc.ProtocolError{Kind: opc.ErrBrowseFailed, Endpoint: t.endpoint, Err: fmt.Errorf("no such node %q", nodeID)}
	}
	return append([]opc.BrowseNode(nil), refs...), nil
}

// Call records the call and runs the scripted handler.
func (t *FakeTransport) Call(ctx context.Context, objectID, methodID string, args []any) ([]any, error) {
	if err := t.checkOp(); err != nil {
		return nil, err
	}
	t.server.mu.Lock()
	t.server.calls = append(t.server.calls, CallRecord{ObjectID: objectID, MethodID: methodID, Args: args})
	fn, ok := t.server.methods[methodID]
	t.server.mu.Unlock()
	if !ok {
		return nil, &opc.ProtocolError{Kind: opc.ErrCallFailed, Endpoint: t.endpoint, Err: fmt.Errorf("no such method %q", methodID)}
	}
	return fn(args)
}

// Subscribe registers a sink that receives Notify pushes for matching nodes.
func (t *FakeTransport) Subscribe(ctx context.Context, nodeIDs []string, sampling time.Duration, sink func(opc.Notification)) (opc.TransportSub, error) {
	if err := t.checkOp(); err != nil {
		return nil, err
	}
	monitored := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		monitored[id] = true
	}
	s := &fakeSub{server: t.server, tr: t, monitored: monitored, sink: sink}
	t.server.mu.Lock()
	t.server.sinks = append(t.server.sinks, s)
	t.server.mu.Unlock()
	return s, nil
}

type fakeSub struct {
	server    *FakeServer
	tr        *FakeTransport
	monitored map[string]bool
	sink      func(opc.Notification)
}

func (s *fakeSub) notify(nodeID string, v any) {
	if !s.monitored[nodeID] {
		return
	}
	s.sink(opc.Notification{NodeID: nodeID, Value: v, Timestamp: time.Now()})
}

func (s *fakeSub) Cancel(ctx context.Context) error {
	s.server.dropSub(s)
	return nil
}
