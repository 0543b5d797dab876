// ABOUTME: Memory service for storing and retrieving agent memory entries
// ABOUTME: Thin domain layer over the store's memory tables

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ladle-sh/ladle/internal/store"
)

// ErrEmptyContent indicates an add with no content.
var ErrEmptyContent = errors.New("memory content must not be empty")

// DefaultContextLimit bounds how many recent entries Context returns.
const DefaultContextLimit = 20

// Entry is one memory item returned to clients.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service persists and retrieves memory entries.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a memory service. Pass nil logger for default.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "memory"),
	}
}

// Add stores a new memory entry and returns it.
func (s *Service) Add(ctx context.Context, content string, tags []string) (*Entry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	entry := &store.MemoryEntry{
		ID:        uuid.New().String(),
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddMemory(ctx, entry); err != nil {
		return nil, fmt.Errorf("storing memory: %w", err)
	}

	s.logger.Debug("memory added", "memory_id", entry.ID, "tags", tags)
	return fromStored(entry), nil
}

// Search returns entries whose content matches the query, optionally filtered
// by tag. Limit defaults to DefaultContextLimit when non-positive.
func (s *Service) Search(ctx context.Context, query, tag string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	stored, err := s.store.SearchMemory(ctx, query, tag, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memory: %w", err)
	}
	return fromStoredAll(stored), nil
}

// Context returns the most recent entries for injection into the agent loop.
func (s *Service) Context(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	stored, err := s.store.RecentMemory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("loading memory context: %w", err)
	}
	return fromStoredAll(stored), nil
}

func fromStored(e *store.MemoryEntry) *Entry {
	return &Entry{ID: e.ID, Content: e.Content, Tags: e.Tags, CreatedAt: e.CreatedAt}
}

func fromStoredAll(stored []*store.MemoryEntry) []*Entry {
	entries := make([]*Entry, len(stored))
	for i, e := range stored {
		entries[i] = fromStored(e)
	}
	return entries
}
