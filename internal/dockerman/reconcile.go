package dockerman

import (
	"context"
	"path/filepath"

	"github.com/p-arndt/fabrik/protocol"
)

// Reconcile tears down what a previous provider process left behind:
// journalled sessions, managed containers and workspace directories that the
// live registry does not know about.
func (m *Manager) Reconcile(ctx context.Context) error {
	if m.engine == nil {
		return m.unknownEnv()
	}

	records, err := m.journal.ListLiveSessions(m.env)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if m.deploys.Contains(rec.ID) {
			continue
		}
		if err := m.engine.RemoveContainer(ctx, rec.ID); err != nil {
			m.logger.Warn("reconcile: remove container", "session_id", rec.ID, "error", err)
			continue
		}
		if rec.Name != "" && filepath.Dir(rec.WorkspaceDir) == m.workspaces.BaseDir() {
			if err := m.workspaces.Delete(rec.Name); err != nil {
				m.logger.Warn("reconcile: remove workspace", "session_id", rec.ID, "workspace", rec.Name, "error", err)
			}
		}
		if err := m.journal.MarkDestroyed(m.env, rec.ID); err != nil {
			m.logger.Warn("reconcile: journal", "session_id", rec.ID, "error", err)
		}
		m.logger.Info("reconciled stale session", "session_id", rec.ID)
	}

	containers, err := m.engine.ListManagedContainers(ctx, m.env)
	if err != nil {
		return err
	}
	for _, ctr := range containers {
		if m.deploys.Contains(ctr.ContainerID) {
			continue
		}
		if err := m.engine.RemoveContainer(ctx, ctr.ContainerID); err != nil {
			m.logger.Warn("reconcile: remove orphan container", "container_id", ctr.ContainerID, "error", err)
			continue
		}
		m.logger.Info("removed orphan container", "container_id", ctr.ContainerID)
	}

	names, err := m.workspaces.List()
	if err != nil {
		return err
	}
	live := make(map[string]bool, m.deploys.Len())
	for _, id := range m.deploys.IDs() {
		sess, _ := m.deploys.Get(id)
		live[sess.ws.Name()] = true
	}
	for _, name := range names {
		if live[name] {
			continue
		}
		if err := m.workspaces.Delete(name); err != nil {
			m.logger.Warn("reconcile: remove orphan workspace", "workspace", name, "error", err)
		}
	}
	return nil
}

// CheckSessions marks running sessions whose container is gone or exited as
// failed.
func (m *Manager) CheckSessions(ctx context.Context) error {
	if m.engine == nil {
		return m.unknownEnv()
	}
	for _, id := range m.deploys.IDs() {
		sess, err := m.deploys.Get(id)
		if err != nil || sess.status != protocol.StatusRunning {
			continue
		}
		running, err := m.engine.IsContainerRunning(ctx, id)
		if err != nil {
			m.logger.Warn("health check", "session_id", id, "error", err)
			continue
		}
		if !running {
			m.logger.Warn("container no longer running", "session_id", id)
			m.setStatus(id, sess, protocol.StatusError)
		}
	}
	return nil
}
