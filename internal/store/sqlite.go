// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/memory/revocation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS revoked_tokens (
			jti        TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL,
			revoked_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires
			ON revoked_tokens(expires_at);

		CREATE TABLE IF NOT EXISTS sessions (
			key         TEXT PRIMARY KEY,
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at  DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id          TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (session_key) REFERENCES sessions(key) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_session_messages_key
			ON session_messages(session_key, created_at);

		CREATE TABLE IF NOT EXISTS memory_entries (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			tags_json  TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memory_created
			ON memory_entries(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RevokeToken inserts a jti into the revocation set. Revoking an already
// revoked token is not an error.
func (s *SQLiteStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a jti is in the revocation set.
func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return true, nil
}

// PurgeExpiredRevocations removes revocation entries whose tokens have
// expired on their own. Returns the number of rows removed.
func (s *SQLiteStore) PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging revocations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateSession inserts a new session row.
// Returns ErrDuplicateSession if the key is already taken.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	configJSON := session.ConfigJSON
	if configJSON == "" {
		configJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, config_json, created_at)
		VALUES (?, ?, ?)`,
		session.Key, configJSON, session.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by key. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*Session, error) {
	session := &Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT key, config_json, created_at FROM sessions WHERE key = ?`, key,
	).Scan(&session.Key, &session.ConfigJSON, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return session, nil
}

// ListSessions returns summaries of all sessions ordered by creation time.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.key, s.created_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN session_messages m ON m.session_key = s.key
		GROUP BY s.key
		ORDER BY s.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*SessionSummary
	for rows.Next() {
		sum := &SessionSummary{}
		if err := rows.Scan(&sum.Key, &sum.CreatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// UpdateSessionConfig replaces a session's config overrides.
func (s *SQLiteStore) UpdateSessionConfig(ctx context.Context, key, configJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET config_json = ? WHERE key = ?`, configJSON, key,
	)
	if err != nil {
		return fmt.Errorf("updating session config: %w", err)
	}
	return requireRow(res)
}

// ClearSessionMessages wipes a session's message ledger, preserving the
// session row and its config.
func (s *SQLiteStore) ClearSessionMessages(ctx context.Context, key string) error {
	if _, err := s.GetSession(ctx, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_key = ?`, key,
	)
	if err != nil {
		return fmt.Errorf("clearing session messages: %w", err)
	}
	return nil
}

// DeleteSession fully removes a session and its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireRow(res)
}

// AppendSessionMessage adds a message to a session's ledger.
func (s *SQLiteStore) AppendSessionMessage(ctx context.Context, msg *SessionMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages (id, session_key, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionKey, msg.Role, msg.Content, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListSessionMessages returns a session's messages in creation order.
func (s *SQLiteStore) ListSessionMessages(ctx context.Context, key string) ([]*SessionMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, role, content, created_at
		FROM session_messages
		WHERE session_key = ?
		ORDER BY created_at ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*SessionMessage
	for rows.Next() {
		m := &SessionMessage{}
		if err := rows.Scan(&m.ID, &m.SessionKey, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountSessionMessages returns the number of messages in a session.
func (s *SQLiteStore) CountSessionMessages(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_messages WHERE session_key = ?`, key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// AddMemory persists a memory entry.
func (s *SQLiteStore) AddMemory(ctx context.Context, entry *MemoryEntry) error {
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, content, tags_json, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Content, string(tagsJSON), entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding memory: %w", err)
	}
	return nil
}

// SearchMemory returns entries whose content matches the query substring,
// optionally filtered by tag, newest first.
func (s *SQLiteStore) SearchMemory(ctx context.Context, query, tag string, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tags_json, created_at
		FROM memory_entries
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC
		LIMIT ?`, query, limit*4)
	if err != nil {
		return nil, fmt.Errorf("searching memory: %w", err)
	}
	defer rows.Close()

	entries, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}

	if tag != "" {
		entries = filterByTag(entries, tag)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RecentMemory returns the most recent entries, newest first.
func (s *SQLiteStore) RecentMemory(ctx context.Context, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tags_json, created_at
		FROM memory_entries
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent memory: %w", err)
	}
	defer rows.Close()

	return scanMemoryRows(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMemoryRows(rows *sql.Rows) ([]*MemoryEntry, error) {
	var entries []*MemoryEntry
	for rows.Next() {
		e := &MemoryEntry{}
		var tagsJSON string
		if err := rows.Scan(&e.ID, &e.Content, &tagsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func filterByTag(entries []*MemoryEntry, tag string) []*MemoryEntry {
	filtered := entries[:0]
	for _, e := range entries {
		for _, t := range e.Tags {
			if t == tag {
				filtered = append(filtered, e)
				break
			}
		}
	}
	return filtered
}

// requireRow converts a zero-row UPDATE/DELETE result into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
// modernc.org/sqlite surfaces constraint violations in the error string; it
// does not export a typed error for them.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
