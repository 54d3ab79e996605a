package opc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/opcflow/internal/ctxlog"
)

// SessionState is the connection state of a session. Reads are lock-free
// snapshots; transitions are serialized by the session's single writer.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFaulted
	StateClosed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultCallTimeout bounds one protocol round trip when the session config
// does not choose a timeout.
const DefaultCallTimeout = 5 * time.Second

// SessionConfig identifies and parameterizes one logical connection.
// Endpoint, identity and security form the sharing key: at most one live
// session exists per distinct tuple.
type SessionConfig struct {
	Endpoint       string
	SecurityPolicy string // "None", "Basic256Sha256", ...
	SecurityMode   string // "None", "Sign", "SignAndEncrypt"
	Username       string
	Password       string
	CertFile       string
	KeyFile        string

	CallTimeout time.Duration
	Reconnect   ReconnectPolicy
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

type sessionKey struct {
	endpoint string
	username string
	policy   string
	mode     string
}

func (c SessionConfig) key() sessionKey {
	return sessionKey{endpoint: c.Endpoint, username: c.Username, policy: c.SecurityPolicy, mode: c.SecurityMode}
}

// EventKind classifies a session-level event.
type EventKind int

const (
	// EventReconnected fires once per successful recovery. Gap increases
	// monotonically so consumers can detect notification gaps.
	EventReconnected EventKind = iota
	// EventFaulted fires when the reconnect budget is exhausted.
	EventFaulted
)

// Event is a session-level notification surfaced to the run controller.
type Event struct {
	Kind     EventKind
	Endpoint string
	Gap      uint64
	Err      error
}

// Session is one logical connection to an endpoint. It is shared by every
// node referencing the same endpoint+identity tuple; callers hold it through
// Manager.Acquire / Session.Release.
type Session struct {
	cfg SessionConfig
	mgr *Manager

	state atomic.Int32
	gap   atomic.Uint64

	// mu serializes state transitions, transport swaps and the subscription
	// table. Protocol calls copy the transport pointer out and release it.
	mu        sync.Mutex
	tr        Transport
	subs      map[uint64]*Subscription
	nextSubID uint64

	reconnecting atomic.Bool
	closed       chan struct{}
	refs         int // guarded by mgr.mu

	// ready closes once the initial connect finishes; connectErr is written
	// before the close, so acquirers arriving mid-handshake block on ready
	// and then see the outcome.
	ready      chan struct{}
	connectErr error
}

// Config returns the session's configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// State returns a lock-free snapshot of the connection state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// GapCount returns the number of recoveries this session has been through.
func (s *Session) GapCount() uint64 { return s.gap.Load() }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

// awaitConnect blocks until the initial connect settles and returns its
// outcome.
func (s *Session) awaitConnect(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.connectErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect dials the transport and brings the session to Connected. Errors
// are already typed by the transport.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	tr, err := s.mgr.dial(s.cfg)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		err = tr.Connect(cctx)
		cancel()
	}
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()
	s.setState(StateConnected)
	return nil
}

// transport returns the live transport, or a not-connected error.
func (s *Session) transport() (Transport, error) {
	if s.State() != StateConnected {
		return nil, &ProtocolError{Kind: ErrSessionNotConnected, Endpoint: s.cfg.Endpoint}
	}
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return nil, &ProtocolError{Kind: ErrSessionNotConnected, Endpoint: s.cfg.Endpoint}
	}
	return tr, nil
}

// invoke runs one protocol call with the per-call timeout and routes
// connection-loss errors into the reconnect machinery.
func (s *Session) invoke(ctx context.Context, fn func(ctx context.Context, tr Transport) error) error {
	tr, err := s.transport()
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	err = fn(cctx, tr)
	if err == nil {
		return nil
	}
	if IsConnectionLoss(err) {
		s.connectionLost(context.WithoutCancel(ctx), err)
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &ProtocolError{Kind: ErrTimeout, Endpoint: s.cfg.Endpoint, Err: err}
	}
	return err
}

// Read performs one batched read. Per-item bad statuses are reported in the
// result map and do not fail the call.
func (s *Session) Read(ctx context.Context, nodeIDs []string) (map[string]ReadResult, error) {
	var out map[string]ReadResult
	err := s.invoke(ctx, func(ctx context.Context, tr Transport) error {
		var err error
		out, err = tr.Read(ctx, nodeIDs)
		return err
	})
	return out, err
}

// Write writes a value to one node. A bad status code surfaces as
// ErrWriteRejected carrying the code.
func (s *Session) Write(ctx context.Context, nodeID string, v any) error {
	return s.invoke(ctx, func(ctx context.Context, tr Transport) error {
		status, err := tr.Write(ctx, nodeID, v)
		if err != nil {
			return err
		}
		if status != 0 {
			return &ProtocolError{Kind: ErrWriteRejected, Endpoint: s.cfg.Endpoint, Status: status}
		}
		return nil
	})
}

// Browse lists the forward references of a node, paging as needed.
func (s *Session) Browse(ctx context.Context, nodeID string) ([]BrowseNode, error) {
	var out []BrowseNode
	err := s.invoke(ctx, func(ctx context.Context, tr Transport) error {
		var err error
		out, err = tr.Browse(ctx, nodeID)
		return err
	})
	return out, err
}

// Call invokes a method on an object node.
func (s *Session) Call(ctx context.Context, objectID, methodID string, args []any) ([]any, error) {
	var out []any
	err := s.invoke(ctx, func(ctx context.Context, tr Transport) error {
		var err error
		out, err = tr.Call(ctx, objectID, methodID, args)
		return err
	})
	return out, err
}

// Subscribe creates a subscription over the given nodes. queueCap bounds
// the notification queue (DefaultQueueCapacity when <= 0).
func (s *Session) Subscribe(ctx context.Context, nodeIDs []string, sampling time.Duration, queueCap int) (*Subscription, error) {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	sub := &Subscription{
		session:  s,
		nodeIDs:  append([]string(nil), nodeIDs...),
		sampling: sampling,
		cap:      queueCap,
	}
	err := s.invoke(ctx, func(ctx context.Context, tr Transport) error {
		tsub, err := tr.Subscribe(ctx, sub.nodeIDs, sampling, sub.push)
		if err != nil {
			return err
		}
		sub.tsub = tsub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextSubID++
	sub.id = s.nextSubID
	if s.subs == nil {
		s.subs = make(map[uint64]*Subscription)
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub, nil
}

// Unsubscribe releases a subscription.
func (s *Session) Unsubscribe(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	return sub.close(ctx)
}

// connectionLost transitions to Reconnecting and starts the single
// reconnect loop. Idempotent while a reconnect is already in flight.
func (s *Session) connectionLost(ctx context.Context, reason error) {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	if s.State() == StateClosed {
		s.reconnecting.Store(false)
		return
	}
	s.setState(StateReconnecting)
	ctxlog.FromContext(ctx).Warn("Session transport lost, reconnecting.",
		"endpoint", s.cfg.Endpoint, "reason", reason)
	go s.reconnectLoop(ctx)
}

func (s *Session) reconnectLoop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("endpoint", s.cfg.Endpoint)
	policy := s.cfg.Reconnect.normalized()

	for attempt := 1; ; attempt++ {
		if policy.MaxAttempts > 0 && attempt > policy.MaxAttempts {
			logger.Error("Reconnect budget exhausted, session faulted.", "attempts", policy.MaxAttempts)
			s.setState(StateFaulted)
			s.reconnecting.Store(false)
			s.mgr.emit(Event{Kind: EventFaulted, Endpoint: s.cfg.Endpoint, Gap: s.gap.Load()})
			return
		}

		delay := policy.backoff(attempt)
		logger.Debug("Waiting before reconnect attempt.", "attempt", attempt, "delay", delay)
		select {
		case <-s.closed:
			s.reconnecting.Store(false)
			return
		case <-time.After(delay):
		}

		if err := s.redial(ctx); err != nil {
			logger.Warn("Reconnect attempt failed.", "attempt", attempt, "error", err)
			continue
		}

		gap := s.gap.Add(1)
		s.reconnecting.Store(false)
		logger.Info("✅ Session reconnected.", "attempts", attempt, "gap", gap)
		s.mgr.emit(Event{Kind: EventReconnected, Endpoint: s.cfg.Endpoint, Gap: gap})
		return
	}
}

// redial replaces the dead transport and re-creates every live subscription
// against the new channel with the same parameters.
func (s *Session) redial(ctx context.Context) error {
	tr, err := s.mgr.dial(s.cfg)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		err = tr.Connect(cctx)
		cancel()
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.tr; old != nil {
		// Best effort: the old transport is already dead.
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		_ = old.Close(cctx)
		cancel()
	}
	s.tr = tr

	for _, sub := range s.subs {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		tsub, err := tr.Subscribe(cctx, sub.nodeIDs, sub.sampling, sub.push)
		cancel()
		if err != nil {
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			_ = tr.Close(cctx)
			cancel()
			s.tr = nil
			return fmt.Errorf("re-creating subscription: %w", err)
		}
		sub.swapTransportSub(tsub)
	}

	s.setState(StateConnected)
	return nil
}

// shutdown closes the transport and all subscriptions. Called by the
// manager once the last reference is released.
func (s *Session) shutdown(ctx context.Context) {
	s.setState(StateClosed)
	close(s.closed)

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = nil
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.close(ctx)
	}
	if tr != nil {
		_ = tr.Close(ctx)
	}
}
