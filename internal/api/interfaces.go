package api

import (
	"context"

	"github.com/p-arndt/fabrik/protocol"
)

// SessionService abstracts the environment registry operations needed by API handlers.
type SessionService interface {
	Names() []string
	CreateSession(ctx context.Context, req protocol.CreateSession) (string, error)
	UpdateSession(ctx context.Context, env string, update protocol.SessionUpdate) ([]string, error)
	DestroySession(ctx context.Context, env, sessionID string) (string, error)
	GetSessions(ctx context.Context, env string) ([]protocol.SessionInfo, error)
}
