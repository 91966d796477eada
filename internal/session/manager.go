// Package session tracks every per-client resource of the live path and
// guarantees they are released together.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Socket is a client's signaling connection. Implementations must allow
// concurrent WriteJSON calls.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

// Peer is a client's media transport.
type Peer interface {
	Close() error
}

// DataChannel carries per-frame results back to the client.
type DataChannel interface {
	SendText(s string) error
	IsOpen() bool
}

// Close reasons passed to hooks.
const (
	ReasonClosed   = "closed"
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// Record describes a session that has just been released.
type Record struct {
	ClientID string
	OpenedAt time.Time
	ClosedAt time.Time
	Reason   string
}

// Hooks observe session lifecycle. Both run outside any manager lock.
type Hooks struct {
	OnOpen  func(clientID string, at time.Time)
	OnClose func(rec Record)
}

// Session holds every handle of one client id.
type Session struct {
	mu       sync.Mutex
	id       string
	socket   Socket
	peer     Peer
	channel  DataChannel
	task     Task
	opened   time.Time
	lastSeen time.Time
}

// Stats is a point-in-time count of tracked resources.
type Stats struct {
	ActiveConnections int `json:"active_connections"`
	PeerConnections   int `json:"peer_connections"`
	DataChannels      int `json:"data_channels"`
	FrameTasks        int `json:"frame_tasks"`
	Sessions          int `json:"sessions"`
}

// Manager is the registry of client sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
	logger   *slog.Logger
	hooks    Hooks
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// NewManager creates an empty session registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// upsert runs fn on the session for id, creating it if needed. fn runs
// with both locks held and returns whatever resources it displaced.
func (m *Manager) upsert(id string, fn func(s *Session) []func()) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	now := m.now()
	if !ok {
		s = &Session{id: id, opened: now}
		m.sessions[id] = s
	}
	s.mu.Lock()
	release := fn(s)
	s.lastSeen = now
	s.mu.Unlock()
	m.mu.Unlock()

	if !ok && m.hooks.OnOpen != nil {
		m.hooks.OnOpen(id, now)
	}
	for _, r := range release {
		r()
	}
}

func (m *Manager) get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// RegisterSocket attaches a signaling socket. A different socket already
// attached under the same id is closed.
func (m *Manager) RegisterSocket(id string, sock Socket) {
	m.upsert(id, func(s *Session) []func() {
		old := s.socket
		s.socket = sock
		if old != nil && old != sock {
			return []func(){m.closer(id, "socket", old.Close)}
		}
		return nil
	})
	m.logger.Info("socket registered", "client_id", id, "active", m.Stats().ActiveConnections)
}

// RegisterPeer attaches a media transport. A displaced peer is closed and
// its frame task canceled, since the task consumed the old peer's track.
func (m *Manager) RegisterPeer(id string, peer Peer) {
	m.upsert(id, func(s *Session) []func() {
		old, oldTask := s.peer, s.task
		s.peer = peer
		if old == nil || old == peer {
			return nil
		}
		s.channel = nil
		s.task = nil
		var release []func()
		if oldTask != nil {
			release = append(release, m.canceler(id, oldTask))
		}
		return append(release, m.closer(id, "peer", old.Close))
	})
}

// RegisterDataChannel attaches the results channel.
func (m *Manager) RegisterDataChannel(id string, ch DataChannel) {
	m.upsert(id, func(s *Session) []func() {
		s.channel = ch
		return nil
	})
}

// RegisterTask attaches the frame processing task, canceling a previous one.
func (m *Manager) RegisterTask(id string, t Task) {
	m.upsert(id, func(s *Session) []func() {
		old := s.task
		s.task = t
		if old != nil && old != t {
			return []func(){m.canceler(id, old)}
		}
		return nil
	})
}

// Touch records activity for id.
func (m *Manager) Touch(id string) {
	if s := m.get(id); s != nil {
		s.mu.Lock()
		s.lastSeen = m.now()
		s.mu.Unlock()
	}
}

// IsSessionValid reports whether id exists and was active within ttl.
func (m *Manager) IsSessionValid(id string, ttl time.Duration) bool {
	s := m.get(id)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.now().Sub(s.lastSeen) <= ttl
}

// DetachSocket drops the socket reference when it is still sock, keeping
// the rest of the session for a reconnect.
func (m *Manager) DetachSocket(id string, sock Socket) {
	s := m.get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.socket == sock {
		s.socket = nil
	}
	s.lastSeen = m.now()
	s.mu.Unlock()
	m.logger.Info("socket detached", "client_id", id, "remaining", m.Stats().ActiveConnections)
}

// DetachPeer releases peer, its channel and its task when peer is still
// the session's current transport. The session itself survives.
func (m *Manager) DetachPeer(id string, peer Peer) {
	s := m.get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.peer != peer {
		s.mu.Unlock()
		return
	}
	t := s.task
	s.peer, s.channel, s.task = nil, nil, nil
	s.mu.Unlock()

	if t != nil {
		m.canceler(id, t)()
	}
	m.closer(id, "peer", peer.Close)()
}

// CloseSession cancels the task, closes the peer and socket and forgets id.
// It is idempotent.
func (m *Manager) CloseSession(id string) bool {
	return m.closeSession(id, ReasonClosed, nil)
}

func (m *Manager) closeSession(id, reason string, cond func(s *Session) bool) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.mu.Lock()
	if cond != nil && !cond(s) {
		s.mu.Unlock()
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	sock, peer, t, opened := s.socket, s.peer, s.task, s.opened
	s.socket, s.peer, s.channel, s.task = nil, nil, nil, nil
	s.mu.Unlock()
	m.mu.Unlock()

	m.release(id, sock, peer, t)
	m.logger.Info("session closed", "client_id", id, "reason", reason)
	if m.hooks.OnClose != nil {
		m.hooks.OnClose(Record{ClientID: id, OpenedAt: opened, ClosedAt: m.now(), Reason: reason})
	}
	return true
}

// release frees each handle independently; one failure never skips the rest.
func (m *Manager) release(id string, sock Socket, peer Peer, t Task) {
	if t != nil {
		m.canceler(id, t)()
	}
	if peer != nil {
		m.closer(id, "peer", peer.Close)()
	}
	if sock != nil {
		m.closer(id, "socket", sock.Close)()
	}
}

func (m *Manager) canceler(id string, t Task) func() {
	return func() {
		if !finished(t) {
			t.Cancel()
			m.logger.Info("frame task canceled", "client_id", id)
		}
	}
}

func (m *Manager) closer(id, what string, closeFn func() error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Warn("close panicked", "client_id", id, "resource", what, "panic", r)
			}
		}()
		if err := closeFn(); err != nil {
			m.logger.Warn("close failed", "client_id", id, "resource", what, "error", err)
		}
	}
}

// CleanupExpiredSessions closes every session idle for longer than ttl and
// returns how many were closed.
func (m *Manager) CleanupExpiredSessions(ttl time.Duration) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		expired := func(s *Session) bool { return m.now().Sub(s.lastSeen) > ttl }
		if m.closeSession(id, ReasonExpired, expired) {
			closed++
		}
	}
	return closed
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupExpiredSessions(ttl); n > 0 {
				m.logger.Info("expired sessions swept", "count", n)
			}
		}
	}
}

// SendMessage writes msg on the client's socket. Failures are logged.
func (m *Manager) SendMessage(id string, msg any) bool {
	s := m.get(id)
	if s == nil {
		return false
	}
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()
	if sock == nil {
		return false
	}
	if err := sock.WriteJSON(msg); err != nil {
		m.logger.Error("failed to send message", "client_id", id, "error", err)
		return false
	}
	m.Touch(id)
	return true
}

// SendData JSON-encodes msg onto the client's data channel when it is open.
func (m *Manager) SendData(id string, msg any) bool {
	s := m.get(id)
	if s == nil {
		return false
	}
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil || !ch.IsOpen() {
		m.logger.Debug("data channel not open", "client_id", id)
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("failed to encode data message", "client_id", id, "error", err)
		return false
	}
	if err := ch.SendText(string(payload)); err != nil {
		m.logger.Error("failed to send data", "client_id", id, "error", err)
		return false
	}
	m.Touch(id)
	return true
}

// Broadcast sends msg to every attached socket and returns the number of
// successful deliveries.
func (m *Manager) Broadcast(msg any) int {
	type target struct {
		id   string
		sock Socket
	}
	m.mu.RLock()
	targets := make([]target, 0, len(m.sessions))
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.socket != nil {
			targets = append(targets, target{id, s.socket})
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if err := t.sock.WriteJSON(msg); err != nil {
			m.logger.Error("failed to broadcast", "client_id", t.id, "error", err)
			continue
		}
		m.Touch(t.id)
		sent++
	}
	return sent
}

// CloseAll releases every session; used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range all {
		s.mu.Lock()
		sock, peer, t, opened := s.socket, s.peer, s.task, s.opened
		s.socket, s.peer, s.channel, s.task = nil, nil, nil, nil
		s.mu.Unlock()
		m.release(id, sock, peer, t)
		if m.hooks.OnClose != nil {
			m.hooks.OnClose(Record{ClientID: id, OpenedAt: opened, ClosedAt: m.now(), Reason: ReasonShutdown})
		}
	}
	m.logger.Info("session manager shut down", "sessions", len(all))
}

// Stats counts tracked resources.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Sessions: len(m.sessions)}
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.socket != nil {
			st.ActiveConnections++
		}
		if s.peer != nil {
			st.PeerConnections++
		}
		if s.channel != nil {
			st.DataChannels++
		}
		if s.task != nil && !finished(s.task) {
			st.FrameTasks++
		}
		s.mu.Unlock()
	}
	return st
}

// HasSession reports whether id is tracked.
func (m *Manager) HasSession(id string) bool {
	return m.get(id) != nil
}

// Peer returns the current transport of id, or nil.
func (m *Manager) Peer(id string) Peer {
	s := m.get(id)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}
