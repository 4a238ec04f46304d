package envman

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/p-arndt/fabrik/protocol"
)

// Registry maps environment names to the backend serving them.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{}}
}

// Register adds or replaces a backend under a given name.
func (r *Registry) Register(name string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = backend
}

// Resolve returns the backend registered under name.
func (r *Registry) Resolve(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEnv, name)
}

// Names returns the registered environment names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateSession routes a create request to the backend named by req.EnvType.
func (r *Registry) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	backend, err := r.Resolve(req.EnvType)
	if err != nil {
		return "", err
	}
	return backend.CreateSession(ctx, req)
}

// UpdateSession routes a command batch to the backend owning the session.
func (r *Registry) UpdateSession(ctx context.Context, env string, update protocol.SessionUpdate) ([]string, error) {
	backend, err := r.Resolve(env)
	if err != nil {
		return []string{"Error: " + err.Error()}, err
	}
	return backend.UpdateSession(ctx, update.SessionID, update.Commands)
}

func (r *Registry) DestroySession(ctx context.Context, env, sessionID string) (string, error) {
	backend, err := r.Resolve(env)
	if err != nil {
		return "", err
	}
	return backend.DestroySession(ctx, sessionID)
}

func (r *Registry) GetSessions(ctx context.Context, env string) ([]protocol.SessionInfo, error) {
	backend, err := r.Resolve(env)
	if err != nil {
		return nil, err
	}
	return backend.GetSessions(ctx), nil
}
