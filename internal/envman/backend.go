// Package envman routes session requests to the execution environments
// ("backends") running inside a provider.
package envman

import (
	"context"

	"github.com/p-arndt/fabrik/protocol"
)

// Backend is the capability set every execution environment implements.
//
// Implementations are not required to be safe for concurrent use: they are
// wrapped in a Handle, which owns them and feeds them one request at a time.
type Backend interface {
	CreateSession(ctx context.Context, req protocol.CreateSession) (string, error)
	DestroySession(ctx context.Context, sessionID string) (string, error)
	GetSessions(ctx context.Context) []protocol.SessionInfo
	// UpdateSession always returns the results accumulated so far, including
	// the message of the failing command when err is non-nil.
	UpdateSession(ctx context.Context, sessionID string, commands []protocol.Command) ([]string, error)
}

// Reconciler is implemented by backends that can clean up state left behind
// by a previous provider process.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// HealthChecker is implemented by backends that can detect sessions whose
// execution unit died outside of their control.
type HealthChecker interface {
	CheckSessions(ctx context.Context) error
}
