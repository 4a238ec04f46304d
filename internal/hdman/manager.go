// Package hdman is the host-direct backend: a session is a workspace
// directory populated from an image archive, and commands run as host
// processes inside it.
package hdman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/p-arndt/fabrik/internal/deploy"
	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/provision"
	"github.com/p-arndt/fabrik/internal/store"
	"github.com/p-arndt/fabrik/internal/workspace"
	"github.com/p-arndt/fabrik/protocol"
)

const DefaultEnv = "hd"

// Manager implements envman.Backend with host processes. It is not safe for
// concurrent use; run it behind an envman.Handle.
type Manager struct {
	env        string
	transfer   Transfer
	journal    Journal
	workspaces *workspace.Manager
	deploys    *deploy.Registry[*session]
	logger     *slog.Logger
}

var (
	_ envman.Backend    = (*Manager)(nil)
	_ envman.Reconciler = (*Manager)(nil)
)

func New(env string, transfer Transfer, journal Journal, workspaces *workspace.Manager, logger *slog.Logger) *Manager {
	if env == "" {
		env = DefaultEnv
	}
	return &Manager{
		env:        env,
		transfer:   transfer,
		journal:    journal,
		workspaces: workspaces,
		deploys:    deploy.NewRegistry[*session](),
		logger:     logger.With("env", env),
	}
}

func (m *Manager) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	m.logger.Debug("create session", "image", req.Image.URI)

	ws := m.workspaces.Workspace()
	for _, v := range req.Options.Volumes {
		if _, ok := v.SourceDir(); !ok {
			m.logger.Warn("skipping volume", "kind", v.Kind, "src", v.Src, "target", v.Target)
			continue
		}
		if _, ok := v.TargetDir(); !ok {
			continue
		}
		ws.AddVolume(v)
	}
	if err := ws.CreateDirs(); err != nil {
		return "", err
	}

	if err := m.installImage(ctx, req.Image, ws.Path()); err != nil {
		m.discardWorkspace(ws)
		return "", err
	}
	if err := linkVolumes(ws); err != nil {
		m.discardWorkspace(ws)
		return "", err
	}

	id := uuid.New().String()
	if err := m.deploys.Insert(id, newSession(ws)); err != nil {
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

// installImage downloads the image archive, checks it against its digest
// and unpacks it into dir.
func (m *Manager) installImage(ctx context.Context, img protocol.Image, dir string) error {
	if img.URI == "" {
		return nil
	}
	body, _, err := m.transfer.DownloadStream(ctx, img.URI)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, ".image-*")
	if err != nil {
		return fmt.Errorf("%w: spool image: %v", envman.ErrIO, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("%w: fetch image %s: %v", envman.ErrTransfer, img.URI, err)
	}

	if img.Hash != "" {
		if err := provision.VerifyFile(tmp.Name(), img.Hash); err != nil {
			return err
		}
	} else {
		m.logger.Warn("image has no digest, skipping verification", "image", img.URI)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind image: %v", envman.ErrIO, err)
	}
	archive, err := provision.Decompress(tmp)
	if err != nil {
		return fmt.Errorf("%w: open image %s: %v", envman.ErrTransfer, img.URI, err)
	}
	if err := provision.ExtractTar(archive, dir); err != nil {
		return fmt.Errorf("%w: unpack image %s: %v", envman.ErrTransfer, img.URI, err)
	}
	return nil
}

// linkVolumes makes each bound host directory visible at its target path
// inside the workspace.
func linkVolumes(ws *workspace.Workspace) error {
	for _, v := range ws.Volumes() {
		target, err := provision.SecureJoin(ws.Path(), v.Target)
		if err != nil {
			return fmt.Errorf("%w: volume %s: %v", envman.ErrIO, v.Target, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("%w: volume %s: %v", envman.ErrIO, v.Target, err)
		}
		if err := os.Symlink(v.Src, target); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: volume %s: %v", envman.ErrIO, v.Target, err)
		}
	}
	return nil
}

func (m *Manager) DestroySession(ctx context.Context, id string) (string, error) {
	sess, err := m.deploys.Remove(id)
	if err != nil {
		return "", err
	}
	sess.killChildren(m.logger)
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
	sess, err := m.deploys.Get(id)
	if err != nil {
		return deploy.NoSession(id)
	}
	return deploy.RunCommands(ctx, func(ctx context.Context, cmd protocol.Command) (string, error) {
		m.logger.Debug("run command", "session_id", id, "command", cmd.Type)
		return m.runCommand(ctx, id, sess, cmd)
	}, commands)
}

// Reconcile removes workspaces of sessions journalled by a previous process.
func (m *Manager) Reconcile(ctx context.Context) error {
	records, err := m.journal.ListLiveSessions(m.env)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if m.deploys.Contains(rec.ID) {
			continue
		}
		if rec.Name != "" {
			if err := m.workspaces.Delete(rec.Name); err != nil {
				m.logger.Warn("reconcile: remove workspace", "session_id", rec.ID, "error", err)
				continue
			}
		}
		if err := m.journal.MarkDestroyed(m.env, rec.ID); err != nil {
			m.logger.Warn("reconcile: journal", "session_id", rec.ID, "error", err)
		}
		m.logger.Info("reconciled stale session", "session_id", rec.ID)
	}
	return nil
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
