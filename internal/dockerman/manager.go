// Package dockerman is the container-engine backend: every session is a
// Docker container created from the session image.
package dockerman

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-arndt/fabrik/internal/deploy"
	"github.com/p-arndt/fabrik/internal/docker"
	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/store"
	"github.com/p-arndt/fabrik/internal/workspace"
	"github.com/p-arndt/fabrik/protocol"
)

const DefaultEnv = "docker"

type Config struct {
	Env         string
	StopTimeout time.Duration
}

// Manager implements envman.Backend on top of a container engine. It is not
// safe for concurrent use; run it behind an envman.Handle.
type Manager struct {
	env         string
	stopTimeout int

	engine     Engine
	transfer   Transfer
	journal    Journal
	workspaces *workspace.Manager
	deploys    *deploy.Registry[*session]
	logger     *slog.Logger
}

var (
	_ envman.Backend       = (*Manager)(nil)
	_ envman.Reconciler    = (*Manager)(nil)
	_ envman.HealthChecker = (*Manager)(nil)
)

// New returns a backend. A nil engine yields a backend that answers every
// session operation with envman.ErrUnknownEnv.
func New(cfg Config, engine Engine, transfer Transfer, journal Journal, workspaces *workspace.Manager, logger *slog.Logger) *Manager {
	if cfg.Env == "" {
		cfg.Env = DefaultEnv
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Manager{
		env:         cfg.Env,
		stopTimeout: int(cfg.StopTimeout / time.Second),
		engine:      engine,
		transfer:    transfer,
		journal:     journal,
		workspaces:  workspaces,
		deploys:     deploy.NewRegistry[*session](),
		logger:      logger.With("env", cfg.Env),
	}
}

type session struct {
	ws     *workspace.Workspace
	status protocol.SessionStatus
}

func (s *session) Info(id string) protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:        id,
		Name:      s.ws.Name(),
		Status:    s.status,
		Tags:      s.ws.Tags(),
		Processes: []string{},
	}
}

func (m *Manager) unknownEnv() error {
	return fmt.Errorf("%w: %s", envman.ErrUnknownEnv, m.env)
}

// bindsAndWorkspace turns the declared volumes into engine bind strings and
// records each of them on ws. Volumes of a kind without a host directory are
// skipped.
func (m *Manager) bindsAndWorkspace(volumes []protocol.VolumeDef, ws *workspace.Workspace) []string {
	binds := make([]string, 0, len(volumes))
	for _, v := range volumes {
		src, okSrc := v.SourceDir()
		target, okTarget := v.TargetDir()
		if !okSrc || !okTarget {
			m.logger.Warn("skipping volume", "kind", v.Kind, "src", v.Src, "target", v.Target)
			continue
		}
		ws.AddVolume(v)
		binds = append(binds, src+":"+target)
	}
	return binds
}

func (m *Manager) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	if m.engine == nil {
		return "", m.unknownEnv()
	}
	m.logger.Debug("create session", "image", req.Image.URI)

	ws := m.workspaces.Workspace()
	binds := m.bindsAndWorkspace(req.Options.Volumes, ws)
	if err := ws.CreateDirs(); err != nil {
		return "", err
	}

	if err := m.engine.PullImage(ctx, req.Image.URI); err != nil {
		m.discardWorkspace(ws)
		return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
	}
	id, err := m.engine.CreateContainer(ctx, docker.CreateOpts{
		Env:    m.env,
		Image:  req.Image.URI,
		Cmd:    req.Options.Cmd,
		Binds:  binds,
		Labels: map[string]string{"fabrik.workspace": ws.Name()},
	})
	if err != nil {
		m.discardWorkspace(ws)
		return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
	}

	if err := m.deploys.Insert(id, &session{ws: ws, status: protocol.StatusCreated}); err != nil {
		if rmErr := m.engine.RemoveContainer(ctx, id); rmErr != nil {
			m.logger.Error("remove rejected container", "session_id", id, "error", rmErr)
		}
		m.discardWorkspace(ws)
		return "", err
	}

	if err := m.journal.CreateSession(&store.Session{
		ID:           id,
		Env:          m.env,
		Image:        req.Image.URI,
		Name:         ws.Name(),
		WorkspaceDir: ws.Path(),
		Status:       string(protocol.StatusCreated),
	}); err != nil {
		m.logger.Warn("journal create", "session_id", id, "error", err)
	}

	m.logger.Info("session created", "session_id", id, "image", req.Image.URI, "workspace", ws.Name())
	return id, nil
}

func (m *Manager) DestroySession(ctx context.Context, id string) (string, error) {
	if m.engine == nil {
		return "", m.unknownEnv()
	}
	sess, err := m.deploys.Get(id)
	if err != nil {
		return "", err
	}

	if err := m.engine.RemoveContainer(ctx, id); err != nil {
		return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
	}
	if _, err := m.deploys.Remove(id); err != nil {
		return "", err
	}
	m.discardWorkspace(sess.ws)
	if err := m.journal.MarkDestroyed(m.env, id); err != nil {
		m.logger.Warn("journal destroy", "session_id", id, "error", err)
	}

	m.logger.Info("session destroyed", "session_id", id)
	return "done", nil
}

func (m *Manager) GetSessions(ctx context.Context) []protocol.SessionInfo {
	return m.deploys.Snapshot()
}

func (m *Manager) UpdateSession(ctx context.Context, id string, commands []protocol.Command) ([]string, error) {
	if m.engine == nil {
		err := m.unknownEnv()
		return []string{"Error: " + err.Error()}, err
	}
	sess, err := m.deploys.Get(id)
	if err != nil {
		return deploy.NoSession(id)
	}
	return deploy.RunCommands(ctx, func(ctx context.Context, cmd protocol.Command) (string, error) {
		m.logger.Debug("run command", "session_id", id, "command", cmd.Type)
		return m.runCommand(ctx, id, sess, cmd)
	}, commands)
}

func (m *Manager) discardWorkspace(ws *workspace.Workspace) {
	if err := ws.Destroy(); err != nil {
		m.logger.Warn("remove workspace", "workspace", ws.Name(), "error", err)
	}
}

func (m *Manager) setStatus(id string, sess *session, status protocol.SessionStatus) {
	sess.status = status
	if err := m.journal.UpdateSessionStatus(m.env, id, string(status)); err != nil {
		m.logger.Warn("journal status", "session_id", id, "status", status, "error", err)
	}
}
