package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/fabrik/protocol"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Names() []string {
	args := m.Called()
	if names := args.Get(0); names != nil {
		return names.([]string)
	}
	return nil
}

func (m *MockSessionService) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) UpdateSession(ctx context.Context, env string, update protocol.SessionUpdate) ([]string, error) {
	args := m.Called(ctx, env, update)
	if results := args.Get(0); results != nil {
		return results.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) DestroySession(ctx context.Context, env, sessionID string) (string, error) {
	args := m.Called(ctx, env, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) GetSessions(ctx context.Context, env string) ([]protocol.SessionInfo, error) {
	args := m.Called(ctx, env)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]protocol.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}
