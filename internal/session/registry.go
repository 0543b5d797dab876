// ABOUTME: Session registry managing named conversation sessions and their history
// ABOUTME: Validates keys, serializes per-key mutations, and persists through the store

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ladle-sh/ladle/internal/store"
)

// keyPattern constrains session keys to filesystem- and URL-safe names.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var (
	// ErrInvalidKey indicates a session key that fails validation. Distinct
	// from ErrNotFound so callers can map it to a 422 rather than a 404.
	ErrInvalidKey = errors.New("invalid session key")
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrAlreadyExists indicates a create collided with an existing session.
	ErrAlreadyExists = store.ErrDuplicateSession
)

// Message roles stored in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Info summarizes a session for list and detail responses.
type Info struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one history entry in export/history responses.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Export is the portable form of a session produced by ExportSession and
// accepted by ImportSession.
type Export struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Config    string    `json:"config,omitempty"`
	Messages  []Message `json:"messages"`
}

// Registry manages the session namespace. All mutations to a given session
// are serialized through a per-key lock so concurrent appends and clears
// cannot interleave.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a session registry backed by the given store.
// Pass nil logger for default.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		logger: logger.With("component", "sessions"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// ValidateKey checks a session key against the allowed pattern.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// keyLock returns the mutex serializing mutations for one session key.
func (r *Registry) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Create creates a new empty session. Returns ErrAlreadyExists if the key
// is taken and ErrInvalidKey if the key fails validation.
func (r *Registry) Create(ctx context.Context, key string) (*Info, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	sess := &store.Session{
		Key:        key,
		ConfigJSON: "{}",
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	r.logger.Debug("session created", "session_key", key)
	return &Info{Key: key, CreatedAt: sess.CreatedAt}, nil
}

// GetOrCreate returns the named session, creating it if absent. This is the
// semantics behind session.switch: switching to a new key brings the session
// into existence.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Info, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	info, err := r.get(ctx, key)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sess := &store.Session{
		Key:        key,
		ConfigJSON: "{}",
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		// Lost a race with another creator; the session exists now.
		if errors.Is(err, ErrAlreadyExists) {
			return r.get(ctx, key)
		}
		return nil, err
	}

	r.logger.Debug("session created", "session_key", key)
	return &Info{Key: key, CreatedAt: sess.CreatedAt}, nil
}

// Get returns the named session's summary. Returns ErrNotFound if absent.
func (r *Registry) Get(ctx context.Context, key string) (*Info, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return r.get(ctx, key)
}

func (r *Registry) get(ctx context.Context, key string) (*Info, error) {
	sess, err := r.store.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	count, err := r.store.CountSessionMessages(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Info{Key: sess.Key, CreatedAt: sess.CreatedAt, MessageCount: count}, nil
}

// List returns summaries for all sessions ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*Info, error) {
	summaries, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]*Info, len(summaries))
	for i, s := range summaries {
		infos[i] = &Info{Key: s.Key, CreatedAt: s.CreatedAt, MessageCount: s.MessageCount}
	}
	return infos, nil
}

// Clear removes all messages from a session, leaving its config intact.
// Returns the number of messages removed.
func (r *Registry) Clear(ctx context.Context, key string) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	count, err := r.store.CountSessionMessages(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := r.store.ClearSessionMessages(ctx, key); err != nil {
		return 0, err
	}

	r.logger.Info("session cleared", "session_key", key, "messages_removed", count)
	return count, nil
}

// Delete removes a session and its history. Returns ErrNotFound if absent.
func (r *Registry) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.DeleteSession(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.locks, key)
	r.mu.Unlock()

	r.logger.Info("session deleted", "session_key", key)
	return nil
}

// AppendMessage records one history entry for the session. The session must
// already exist; chat flows call GetOrCreate first.
func (r *Registry) AppendMessage(ctx context.Context, key, role, content string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	return r.store.AppendSessionMessage(ctx, &store.SessionMessage{
		ID:         uuid.New().String(),
		SessionKey: key,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	})
}

// History returns the session's messages in chronological order.
func (r *Registry) History(ctx context.Context, key string) ([]Message, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	if _, err := r.store.GetSession(ctx, key); err != nil {
		return nil, err
	}

	stored, err := r.store.ListSessionMessages(ctx, key)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, len(stored))
	for i, m := range stored {
		messages[i] = Message{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
	}
	return messages, nil
}

// ExportSession produces a portable snapshot of a session and its history.
func (r *Registry) ExportSession(ctx context.Context, key string) (*Export, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}

	stored, err := r.store.ListSessionMessages(ctx, key)
	if err != nil {
		return nil, err
	}

	export := &Export{
		Key:       sess.Key,
		CreatedAt: sess.CreatedAt,
		Config:    sess.ConfigJSON,
		Messages:  make([]Message, len(stored)),
	}
	for i, m := range stored {
		export.Messages[i] = Message{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
	}
	return export, nil
}

// ImportSession recreates a session from an export. The target key must not
// already exist; imports never overwrite live sessions.
func (r *Registry) ImportSession(ctx context.Context, export *Export) (*Info, error) {
	if err := ValidateKey(export.Key); err != nil {
		return nil, err
	}

	lock := r.keyLock(export.Key)
	lock.Lock()
	defer lock.Unlock()

	createdAt := export.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	config := export.Config
	if config == "" {
		config = "{}"
	}

	sess := &store.Session{
		Key:        export.Key,
		ConfigJSON: config,
		CreatedAt:  createdAt,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	for _, m := range export.Messages {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		err := r.store.AppendSessionMessage(ctx, &store.SessionMessage{
			ID:         uuid.New().String(),
			SessionKey: export.Key,
			Role:       m.Role,
			Content:    m.Content,
			CreatedAt:  ts,
		})
		if err != nil {
			return nil, fmt.Errorf("importing message: %w", err)
		}
	}

	r.logger.Info("session imported",
		"session_key", export.Key,
		"message_count", len(export.Messages))

	return &Info{Key: export.Key, CreatedAt: createdAt, MessageCount: len(export.Messages)}, nil
}
