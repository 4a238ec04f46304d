package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/p-arndt/fabrik/internal/config"
	"github.com/p-arndt/fabrik/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Listen:                "127.0.0.1:0",
		DataDir:               t.TempDir(),
		DBPath:                ":memory:",
		LogLevel:              "debug",
		MailboxSize:           4,
		ReaperIntervalSeconds: 1,
		JournalRetentionHours: 1,
		Docker: config.DockerConfig{
			Enabled:            false,
			StopTimeoutSeconds: 1,
		},
		HostDirect: config.HostDirectConfig{
			Enabled: true,
		},
	}
}

func TestSession(env, id string) *store.Session {
	now := time.Now().UTC()
	return &store.Session{
		ID:           id,
		Env:          env,
		Image:        "busybox:latest",
		Name:         "ws-" + id,
		WorkspaceDir: "/tmp/fabrik-test/" + env + "/ws-" + id,
		Status:       "created",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 0)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
