package reaper

import (
	"context"
	"time"
)

// Target is a backend the reaper looks after. *envman.Handle implements it.
type Target interface {
	Name() string
	Reconcile(ctx context.Context) error
	CheckSessions(ctx context.Context) error
}

// ReaperStore abstracts journal operations needed by the reaper.
type ReaperStore interface {
	PurgeDestroyed(before time.Time) (int64, error)
}
