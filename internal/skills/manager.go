// ABOUTME: Skill manager tracking loaded skills and the active set
// ABOUTME: Activation composes instructions into context for the agent loop

package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound indicates an unknown skill name.
var ErrNotFound = errors.New("skill not found")

// Manager tracks loaded skills and which of them are active.
type Manager struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	active map[string]bool
	logger *slog.Logger
}

// NewManager creates a manager holding the given skills.
// Pass nil logger for default.
func NewManager(loaded []*Skill, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		skills: make(map[string]*Skill),
		active: make(map[string]bool),
		logger: logger.With("component", "skills"),
	}
	for _, s := range loaded {
		m.skills[s.Metadata.Name] = s
	}
	return m
}

// List returns all loaded skills sorted by name.
func (m *Manager) List() []*Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Name < out[j].Metadata.Name })
	return out
}

// Get returns a skill by name. Returns ErrNotFound for unknown names.
func (m *Manager) Get(name string) (*Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// Activate marks a skill active. Activating an active skill is a no-op.
func (m *Manager) Activate(name string) (*Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !m.active[name] {
		m.active[name] = true
		m.logger.Info("skill activated", "skill", name)
	}
	return s, nil
}

// Deactivate removes a skill from the active set. Returns whether the skill
// was active; unknown names return ErrNotFound.
func (m *Manager) Deactivate(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.skills[name]; !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	was := m.active[name]
	delete(m.active, name)
	if was {
		m.logger.Info("skill deactivated", "skill", name)
	}
	return was, nil
}

// IsActive reports whether a skill is currently active.
func (m *Manager) IsActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[name]
}

// ActiveNames returns the names of active skills sorted alphabetically.
func (m *Manager) ActiveNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveContext composes the instructions of all active skills into one
// block suitable for injection into the agent loop's system context.
func (m *Manager) ActiveContext() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		s := m.skills[name]
		sb.WriteString("## Skill: ")
		sb.WriteString(s.Metadata.Name)
		sb.WriteString("\n\n")
		sb.WriteString(s.Instructions)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// MatchTriggers returns skills whose keyword triggers match the text,
// ordered by descending trigger priority.
func (m *Manager) MatchTriggers(text string) []*Skill {
	lower := strings.ToLower(text)

	m.mu.RLock()
	defer m.mu.RUnlock()

	type match struct {
		skill    *Skill
		priority int
	}
	var matches []match
	for _, s := range m.skills {
		if priority, ok := matchKeywordTriggers(s, lower); ok {
			matches = append(matches, match{skill: s, priority: priority})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].priority > matches[j].priority })

	out := make([]*Skill, len(matches))
	for i, m := range matches {
		out[i] = m.skill
	}
	return out
}

// matchKeywordTriggers returns the priority of the first keyword trigger
// matching the lowercased text.
func matchKeywordTriggers(s *Skill, lower string) (int, bool) {
	for _, trigger := range s.Metadata.Triggers {
		if trigger.Type != "" && trigger.Type != "keyword" {
			continue
		}
		for _, kw := range trigger.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return trigger.Priority, true
			}
		}
	}
	return 0, false
}
