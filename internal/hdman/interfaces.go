package hdman

import (
	"context"
	"io"

	"github.com/p-arndt/fabrik/internal/store"
)

type Transfer interface {
	DownloadStream(ctx context.Context, uri string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, uri string, body io.Reader, size int64) (string, error)
}

type Journal interface {
	CreateSession(sess *store.Session) error
	UpdateSessionStatus(env, id, status string) error
	MarkDestroyed(env, id string) error
	ListLiveSessions(env string) ([]*store.Session, error)
}
