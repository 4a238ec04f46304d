package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/protocol"
)

// Manager hands out workspaces under one backend's subdirectory of the
// provider data directory.
type Manager struct {
	baseDir string
	logger  *slog.Logger
}

// Workspace is the on-disk resource bundle owned by one session.
type Workspace struct {
	name    string
	path    string
	volumes []protocol.VolumeDef
	tags    map[string]struct{}
	logger  *slog.Logger
}

func NewManager(dataDir, env string, logger *slog.Logger) (*Manager, error) {
	trimmed := strings.TrimSpace(dataDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace data directory is empty")
	}
	if env == "" || strings.ContainsAny(env, `/\`) {
		return nil, fmt.Errorf("invalid environment name %q", env)
	}
	abs, err := filepath.Abs(filepath.Join(trimmed, env))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base: %w", err)
	}
	return &Manager{baseDir: abs, logger: logger}, nil
}

func (m *Manager) BaseDir() string { return m.baseDir }

// Workspace returns a new, not yet created, workspace with a fresh name.
func (m *Manager) Workspace() *Workspace {
	return m.Open(uuid.New().String()[:12])
}

// Open returns the workspace called name without touching the disk.
func (m *Manager) Open(name string) *Workspace {
	return &Workspace{
		name:   name,
		path:   filepath.Join(m.baseDir, name),
		tags:   make(map[string]struct{}),
		logger: m.logger,
	}
}

// List returns the names of the workspace directories present on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read workspaces dir: %v", envman.ErrIO, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Delete removes the workspace directory called name.
func (m *Manager) Delete(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid workspace name %q", name)
	}
	return m.Open(name).Destroy()
}

func (w *Workspace) Name() string { return w.name }

func (w *Workspace) Path() string { return w.path }

// CreateDirs creates the root directory and its parents.
func (w *Workspace) CreateDirs() error {
	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return fmt.Errorf("%w: create workspace %s: %v", envman.ErrIO, w.name, err)
	}
	return nil
}

// AddVolume records a binding for later use by the backend.
func (w *Workspace) AddVolume(v protocol.VolumeDef) {
	w.volumes = append(w.volumes, v)
}

func (w *Workspace) Volumes() []protocol.VolumeDef {
	out := make([]protocol.VolumeDef, len(w.volumes))
	copy(out, w.volumes)
	return out
}

func (w *Workspace) AddTags(tags []string) {
	for _, t := range tags {
		w.tags[t] = struct{}{}
	}
}

func (w *Workspace) RemoveTags(tags []string) {
	for _, t := range tags {
		delete(w.tags, t)
	}
}

// Tags returns the tag set, sorted.
func (w *Workspace) Tags() []string {
	return protocol.SortedTags(w.tags)
}

// Destroy removes the workspace directory tree. A directory that is already
// gone is logged, not reported.
func (w *Workspace) Destroy() error {
	if _, err := os.Lstat(w.path); errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("workspace already removed", "workspace", w.name, "path", w.path)
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("%w: remove workspace %s: %v", envman.ErrIO, w.name, err)
	}
	return nil
}
