package opc

import (
	"context"
	"sync"

	"github.com/vk/opcflow/internal/ctxlog"
)

// Manager owns every session in the process. Sessions are shared,
// reference-counted resources keyed by endpoint+identity+security; the
// manager hands out the existing session when a second acquirer asks for
// the same tuple.
//
// By default a session whose reference count drops to zero stays cached
// (disconnected lazily at Close) so continuous runs reuse connections and
// subscriptions across iterations. ReleaseOnIdle opts into eager teardown.
type Manager struct {
	dial          Dialer
	releaseOnIdle bool

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	onEvent  []func(Event)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithReleaseOnIdle closes a session as soon as its last reference is
// released instead of caching it for reuse.
func WithReleaseOnIdle() ManagerOption {
	return func(m *Manager) { m.releaseOnIdle = true }
}

// NewManager builds a Manager around a transport dialer.
func NewManager(dial Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dial:     dial,
		sessions: make(map[sessionKey]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent registers a consumer of session-level events (reconnects,
// faults). Callbacks must not block; they run on session goroutines.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = append(m.onEvent, fn)
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	fns := append([]func(Event){}, m.onEvent...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Acquire returns a connected session for the given configuration, creating
// and connecting one on first use. Concurrent acquirers of the same tuple
// share one connect: later callers block until it settles and see the same
// outcome. The caller must pair a successful Acquire with Release.
func (m *Manager) Acquire(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg = cfg.withDefaults()
	key := cfg.key()

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.refs++
		m.mu.Unlock()
		if err := s.awaitConnect(ctx); err != nil {
			m.mu.Lock()
			s.refs--
			m.mu.Unlock()
			return nil, err
		}
		return s, nil
	}
	s := &Session{cfg: cfg, mgr: m, refs: 1, closed: make(chan struct{}), ready: make(chan struct{})}
	m.sessions[key] = s
	m.mu.Unlock()

	ctxlog.FromContext(ctx).Info("▶️ Connecting OPC-UA session.", "endpoint", cfg.Endpoint, "policy", cfg.SecurityPolicy)
	err := s.connect(ctx)
	s.connectErr = err
	close(s.ready)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("✅ OPC-UA session connected.", "endpoint", cfg.Endpoint)
	return s, nil
}

// Release drops one reference. With ReleaseOnIdle, the last release closes
// the session; otherwise it stays cached until Close.
func (m *Manager) Release(ctx context.Context, s *Session) {
	m.mu.Lock()
	s.refs--
	idle := s.refs <= 0
	if idle && m.releaseOnIdle {
		delete(m.sessions, s.cfg.key())
		m.mu.Unlock()
		ctxlog.FromContext(ctx).Info("🔥 Closing idle OPC-UA session.", "endpoint", s.cfg.Endpoint)
		s.shutdown(ctx)
		return
	}
	m.mu.Unlock()
}

// Session returns the cached session for a configuration without acquiring
// a reference. Mainly for observability.
func (m *Manager) Session(cfg SessionConfig) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cfg.withDefaults().key()]
	return s, ok
}

// Close shuts down every session, cached or referenced.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[sessionKey]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.shutdown(ctx)
	}
}
