// Package deploy holds the environment-agnostic parts of session management:
// the per-backend session registry and the command pipeline.
package deploy

import (
	"fmt"
	"sort"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/protocol"
)

// Session is a backend-specific session tracked by a Registry.
type Session interface {
	Info(id string) protocol.SessionInfo
}

// Registry maps session ids to sessions for one backend. It is owned by the
// backend's actor and performs no locking.
type Registry[S Session] struct {
	sessions map[string]S
}

func NewRegistry[S Session]() *Registry[S] {
	return &Registry[S]{sessions: make(map[string]S)}
}

// Insert registers s under id. Reused ids are rejected.
func (r *Registry[S]) Insert(id string, s S) error {
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", envman.ErrDuplicateSession, id)
	}
	r.sessions[id] = s
	return nil
}

func (r *Registry[S]) Get(id string) (S, error) {
	s, ok := r.sessions[id]
	if !ok {
		return s, fmt.Errorf("%w %s", envman.ErrNoSuchSession, id)
	}
	return s, nil
}

func (r *Registry[S]) Contains(id string) bool {
	_, ok := r.sessions[id]
	return ok
}

// Remove unregisters id and hands the session back so the caller can tear
// it down.
func (r *Registry[S]) Remove(id string) (S, error) {
	s, ok := r.sessions[id]
	if !ok {
		return s, fmt.Errorf("%w %s", envman.ErrNoSuchSession, id)
	}
	delete(r.sessions, id)
	return s, nil
}

func (r *Registry[S]) Len() int { return len(r.sessions) }

// IDs returns the registered ids in ascending order.
func (r *Registry[S]) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot converts every live session into a SessionInfo, ordered by id.
func (r *Registry[S]) Snapshot() []protocol.SessionInfo {
	ids := r.IDs()
	infos := make([]protocol.SessionInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, r.sessions[id].Info(id))
	}
	return infos
}
