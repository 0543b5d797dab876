// ABOUTME: Tests for the connection manager
// ABOUTME: Covers lifecycle, multi-connection delivery, eviction, and subscriptions

package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter captures frames for assertions and can be told to fail.
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (w *fakeWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("write failed")
	}
	cp := make([]byte, len(message))
	copy(cp, message)
	w.frames = append(w.frames, cp)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) setFail(fail bool) {
	w.mu.Lock()
	w.fail = fail
	w.mu.Unlock()
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *fakeWriter) last(t *testing.T) map[string]any {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.frames)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.frames[len(w.frames)-1], &out))
	return out
}

func TestManager_ConnectDisconnect(t *testing.T) {
	m := NewManager(nil)
	w := &fakeWriter{}

	conn := m.Connect("alice", "default", w)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, 1, m.ConnectionCount())
	assert.Equal(t, 1, m.UserCount())

	m.Disconnect(conn.ID)
	assert.Equal(t, 0, m.ConnectionCount())
	assert.Equal(t, 0, m.UserCount())
	assert.True(t, w.closed)

	// Disconnect is idempotent.
	m.Disconnect(conn.ID)
	assert.Equal(t, 0, m.ConnectionCount())
}

func TestManager_SendToUser_MultipleConnections(t *testing.T) {
	m := NewManager(nil)
	w1, w2, w3 := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}

	m.Connect("alice", "default", w1)
	m.Connect("alice", "default", w2)
	m.Connect("bob", "default", w3)

	sent := m.SendToUser("alice", NewEvent("test", map[string]string{"k": "v"}))
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, w1.count())
	assert.Equal(t, 1, w2.count())
	assert.Equal(t, 0, w3.count())
}

func TestManager_SendToUser_FailureIsolatedAndEvicted(t *testing.T) {
	m := NewManager(nil)
	w1, w2 := &fakeWriter{}, &fakeWriter{}

	c1 := m.Connect("alice", "default", w1)
	m.Connect("alice", "default", w2)
	w1.setFail(true)

	sent := m.SendToUser("alice", NewEvent("test", nil))
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, w2.count())

	// The failed connection is gone; its sibling survives.
	_, ok := m.Get(c1.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, m.ConnectionCount())
}

func TestManager_SendToUser_NoConnections(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.SendToUser("ghost", NewEvent("test", nil)))
}

func TestManager_BroadcastEvent_SubscribedOnly(t *testing.T) {
	m := NewManager(nil)
	w1, w2 := &fakeWriter{}, &fakeWriter{}

	c1 := m.Connect("alice", "default", w1)
	m.Connect("bob", "default", w2)
	m.Subscribe(c1.ID, []string{"agent.complete"})

	sent := m.BroadcastEvent("agent.complete", map[string]string{"session_key": "work"})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, w1.count())
	assert.Equal(t, 0, w2.count())

	frame := w1.last(t)
	assert.Equal(t, TypeEvent, frame["type"])
	assert.Equal(t, "agent.complete", frame["event"])
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(nil)
	w := &fakeWriter{}
	c := m.Connect("alice", "default", w)

	m.Subscribe(c.ID, []string{"a", "b"})
	m.Unsubscribe(c.ID, []string{"a"})

	assert.Equal(t, 0, m.BroadcastEvent("a", nil))
	assert.Equal(t, 1, m.BroadcastEvent("b", nil))

	// Unknown connection ids are a no-op.
	m.Subscribe("missing", []string{"a"})
	m.Unsubscribe("missing", []string{"a"})
}

func TestManager_SessionKeyRebind(t *testing.T) {
	m := NewManager(nil)
	c := m.Connect("alice", "default", &fakeWriter{})

	assert.Equal(t, "default", c.SessionKey())
	c.SetSessionKey("work")
	assert.Equal(t, "work", c.SessionKey())
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(nil)
	w1, w2 := &fakeWriter{}, &fakeWriter{}
	m.Connect("alice", "default", w1)
	m.Connect("bob", "default", w2)

	m.CloseAll()
	assert.Equal(t, 0, m.ConnectionCount())
	assert.True(t, w1.closed)
	assert.True(t, w2.closed)
}
