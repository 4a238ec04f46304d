package envman

import (
	"context"

	"github.com/p-arndt/fabrik/protocol"
	"github.com/stretchr/testify/mock"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) DestroySession(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) GetSessions(ctx context.Context) []protocol.SessionInfo {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]protocol.SessionInfo)
	}
	return nil
}

func (m *MockBackend) UpdateSession(ctx context.Context, sessionID string, commands []protocol.Command) ([]string, error) {
	args := m.Called(ctx, sessionID, commands)
	if results := args.Get(0); results != nil {
		return results.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockReconcilingBackend struct {
	MockBackend
}

func (m *MockReconcilingBackend) Reconcile(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockReconcilingBackend) CheckSessions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
