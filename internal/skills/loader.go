// ABOUTME: Loads skills from SKILL.md files with YAML frontmatter
// ABOUTME: Discovers files under configured paths and renders instructions to HTML

package skills

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// Trigger describes when a skill should be surfaced to the agent loop.
type Trigger struct {
	Type     string   `yaml:"type" json:"type"`         // "keyword" or "pattern"
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
	Patterns []string `yaml:"patterns" json:"patterns,omitempty"`
	Priority int      `yaml:"priority" json:"priority"`
}

// Metadata is the YAML frontmatter of a SKILL.md file.
type Metadata struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Version     string    `yaml:"version" json:"version"`
	Author      string    `yaml:"author" json:"author,omitempty"`
	Tags        []string  `yaml:"tags" json:"tags,omitempty"`
	Triggers    []Trigger `yaml:"triggers" json:"triggers,omitempty"`
}

// Skill is a loaded skill: frontmatter metadata plus markdown instructions.
type Skill struct {
	Metadata     Metadata  `json:"metadata"`
	Instructions string    `json:"-"`
	RenderedHTML string    `json:"-"`
	SourcePath   string    `json:"source_path"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// Loader discovers and parses SKILL.md files.
type Loader struct {
	paths    []string
	markdown goldmark.Markdown
	logger   *slog.Logger
}

// NewLoader creates a loader searching the given directories.
// Pass nil logger for default.
func NewLoader(paths []string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		paths:    paths,
		markdown: goldmark.New(),
		logger:   logger.With("component", "skills"),
	}
}

// Discover returns the paths of all SKILL.md files under the search paths.
// Missing directories are skipped with a warning.
func (l *Loader) Discover() []string {
	var files []string
	for _, base := range l.paths {
		info, err := os.Stat(base)
		if err != nil || !info.IsDir() {
			l.logger.Warn("skill path does not exist", "path", base)
			continue
		}
		filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && d.Name() == "SKILL.md" {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}

// Parse splits a SKILL.md document into frontmatter metadata and instructions.
func Parse(content []byte) (*Metadata, string, error) {
	text := string(content)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil, "", fmt.Errorf("missing yaml frontmatter")
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(text, "---\r\n"), "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, "", fmt.Errorf("unterminated yaml frontmatter")
	}

	frontmatter := rest[:idx]
	body := rest[idx+len("\n---"):]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	if meta.Name == "" {
		return nil, "", fmt.Errorf("skill name is required")
	}
	if meta.Version == "" {
		meta.Version = "1.0.0"
	}

	return &meta, strings.TrimSpace(body), nil
}

// Load parses one SKILL.md file into a Skill.
func (l *Loader) Load(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	meta, instructions, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var html bytes.Buffer
	if err := l.markdown.Convert([]byte(instructions), &html); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", path, err)
	}

	return &Skill{
		Metadata:     *meta,
		Instructions: instructions,
		RenderedHTML: html.String(),
		SourcePath:   path,
		LoadedAt:     time.Now().UTC(),
	}, nil
}

// LoadAll discovers and loads every skill, skipping files that fail to parse.
func (l *Loader) LoadAll() []*Skill {
	var loaded []*Skill
	for _, path := range l.Discover() {
		skill, err := l.Load(path)
		if err != nil {
			l.logger.Error("failed to load skill", "path", path, "error", err)
			continue
		}
		loaded = append(loaded, skill)
		l.logger.Info("loaded skill", "skill", skill.Metadata.Name, "path", path)
	}
	return loaded
}
