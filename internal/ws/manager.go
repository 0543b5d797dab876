// ABOUTME: Connection manager owning all live WebSocket connections
// ABOUTME: Tracks per-user connection sets and per-connection subscriptions

package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer is the transport half of a connection. Writes must be safe to call
// from multiple goroutines; the manager serializes them per connection.
type Writer interface {
	Write(message []byte) error
	Close() error
}

// Conn is one live connection. All state mutation goes through the manager
// so accounting stays consistent; no other component holds the Writer.
type Conn struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	mu            sync.Mutex
	sessionKey    string
	subscriptions map[string]struct{}
	writer        Writer
}

// SessionKey returns the connection's current session binding.
func (c *Conn) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// SetSessionKey rebinds the connection to a different session.
func (c *Conn) SetSessionKey(key string) {
	c.mu.Lock()
	c.sessionKey = key
	c.mu.Unlock()
}

// write serializes one frame to the transport.
func (c *Conn) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.Write(message)
}

func (c *Conn) subscribed(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[event]
	return ok
}

// Manager owns every live connection. Connection state is mutated only here.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	users  map[string]map[string]*Conn // userID -> connID -> conn
	logger *slog.Logger
}

// NewManager creates an empty connection manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:  make(map[string]*Conn),
		users:  make(map[string]map[string]*Conn),
		logger: logger.With("component", "connections"),
	}
}

// Connect registers a new connection for the user and returns it. Never
// blocks; the id is fresh and the subscription set starts empty.
func (m *Manager) Connect(userID, sessionKey string, w Writer) *Conn {
	conn := &Conn{
		ID:            uuid.New().String(),
		UserID:        userID,
		ConnectedAt:   time.Now(),
		sessionKey:    sessionKey,
		subscriptions: make(map[string]struct{}),
		writer:        w,
	}

	m.mu.Lock()
	m.conns[conn.ID] = conn
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]*Conn)
	}
	m.users[userID][conn.ID] = conn
	m.mu.Unlock()

	m.logger.Info("connection established",
		"connection_id", conn.ID,
		"user_id", userID,
		"session_key", sessionKey)
	return conn
}

// Disconnect removes a connection and drops its subscriptions. Idempotent;
// unknown ids are a no-op.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	conn, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
		if set := m.users[conn.UserID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.users, conn.UserID)
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.writer.Close()
	m.logger.Info("connection closed", "connection_id", connID, "user_id", conn.UserID)
}

// Get returns a live connection by id.
func (m *Manager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// Send marshals and delivers a message to a single connection. Send failures
// evict the connection; the error is not propagated to the caller.
func (m *Manager) Send(connID string, v any) bool {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("failed to marshal message", "error", err)
		return false
	}
	return m.deliver(conn, payload)
}

// SendToUser delivers a message to every live connection owned by the user.
// Per-connection failures are isolated; failed links are evicted. Returns how
// many connections received the message.
func (m *Manager) SendToUser(userID string, v any) int {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("failed to marshal message", "error", err)
		return 0
	}

	m.mu.RLock()
	set := m.users[userID]
	conns := make([]*Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if m.deliver(conn, payload) {
			sent++
		}
	}
	return sent
}

// BroadcastEvent delivers an event to every connection subscribed to it.
// The wire message is constructed and marshaled once for all recipients.
func (m *Manager) BroadcastEvent(event string, data any) int {
	payload, err := json.Marshal(NewEvent(event, data))
	if err != nil {
		m.logger.Error("failed to marshal event", "event", event, "error", err)
		return 0
	}

	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if !conn.subscribed(event) {
			continue
		}
		if m.deliver(conn, payload) {
			sent++
		}
	}
	return sent
}

// deliver writes one frame, evicting the connection on failure.
func (m *Manager) deliver(conn *Conn, payload []byte) bool {
	if err := conn.write(payload); err != nil {
		m.logger.Warn("send failed, evicting connection",
			"connection_id", conn.ID, "error", err)
		m.Disconnect(conn.ID)
		return false
	}
	return true
}

// Subscribe adds event names to a connection's subscription set.
// No-op on unknown connections.
func (m *Manager) Subscribe(connID string, events []string) {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	for _, e := range events {
		conn.subscriptions[e] = struct{}{}
	}
	conn.mu.Unlock()
	m.logger.Debug("subscribed", "connection_id", connID, "events", events)
}

// Unsubscribe removes event names from a connection's subscription set.
// No-op on unknown connections.
func (m *Manager) Unsubscribe(connID string, events []string) {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	for _, e := range events {
		delete(conn.subscriptions, e)
	}
	conn.mu.Unlock()
	m.logger.Debug("unsubscribed", "connection_id", connID, "events", events)
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// UserCount returns the number of distinct users with live connections.
func (m *Manager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// CloseAll disconnects every connection. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
