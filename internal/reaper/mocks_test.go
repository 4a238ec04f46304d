package reaper

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockTarget mocks the Target interface.
type MockTarget struct {
	mock.Mock
}

func (m *MockTarget) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockTarget) Reconcile(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTarget) CheckSessions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockReaperStore mocks the ReaperStore interface.
type MockReaperStore struct {
	mock.Mock
}

func (m *MockReaperStore) PurgeDestroyed(before time.Time) (int64, error) {
	args := m.Called(before)
	return args.Get(0).(int64), args.Error(1)
}
