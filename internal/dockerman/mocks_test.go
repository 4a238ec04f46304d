package dockerman

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/fabrik/internal/docker"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) PullImage(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockEngine) CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) StartContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	args := m.Called(ctx, containerID, timeoutSeconds)
	return args.Error(0)
}

func (m *MockEngine) Exec(ctx context.Context, containerID string, argv []string) (docker.ExecResult, error) {
	args := m.Called(ctx, containerID, argv)
	return args.Get(0).(docker.ExecResult), args.Error(1)
}

func (m *MockEngine) CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, path)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) CopyTo(ctx context.Context, containerID, dir string, content io.Reader) error {
	args := m.Called(ctx, containerID, dir, content)
	return args.Error(0)
}

func (m *MockEngine) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngine) ListManagedContainers(ctx context.Context, env string) ([]docker.ContainerInfo, error) {
	args := m.Called(ctx, env)
	if list := args.Get(0); list != nil {
		return list.([]docker.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}
