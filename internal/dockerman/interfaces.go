package dockerman

import (
	"context"
	"io"

	"github.com/p-arndt/fabrik/internal/docker"
	"github.com/p-arndt/fabrik/internal/store"
)

type Engine interface {
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	Exec(ctx context.Context, containerID string, argv []string) (docker.ExecResult, error)
	CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error)
	CopyTo(ctx context.Context, containerID, dir string, content io.Reader) error
	RemoveContainer(ctx context.Context, containerID string) error
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	ListManagedContainers(ctx context.Context, env string) ([]docker.ContainerInfo, error)
}

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
