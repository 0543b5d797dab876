// ABOUTME: Store interface and data types for ladle-gateway persistence
// ABOUTME: Defines sessions, memory entries, token revocations, and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session whose key is taken
var ErrDuplicateSession = errors.New("session already exists")

// Session represents a conversation session scoped by a client-chosen key.
// Conversation state itself is owned by the agent loop; the gateway persists
// the key, per-session config overrides, and the message ledger.
type Session struct {
	Key        string
	ConfigJSON string
	CreatedAt  time.Time
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	Key          string
	CreatedAt    time.Time
	MessageCount int
}

// SessionMessage is a single ledger entry within a session.
type SessionMessage struct {
	ID         string
	SessionKey string
	Role       string // "user" or "agent"
	Content    string
	CreatedAt  time.Time
}

// MemoryEntry is one stored memory item. Ranking and compaction live in the
// external SDK; the gateway only persists and retrieves entries.
type MemoryEntry struct {
	ID        string
	Content   string
	Tags      []string
	CreatedAt time.Time
}

// Store defines the interface for gateway persistence
type Store interface {
	// Token revocations
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, key string) (*Session, error)
	ListSessions(ctx context.Context) ([]*SessionSummary, error)
	UpdateSessionConfig(ctx context.Context, key, configJSON string) error
	ClearSessionMessages(ctx context.Context, key string) error
	DeleteSession(ctx context.Context, key string) error
	AppendSessionMessage(ctx context.Context, msg *SessionMessage) error
	ListSessionMessages(ctx context.Context, key string) ([]*SessionMessage, error)
	CountSessionMessages(ctx context.Context, key string) (int, error)

	// Memory
	AddMemory(ctx context.Context, entry *MemoryEntry) error
	SearchMemory(ctx context.Context, query, tag string, limit int) ([]*MemoryEntry, error)
	RecentMemory(ctx context.Context, limit int) ([]*MemoryEntry, error)

	Close() error
}
