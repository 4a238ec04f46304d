package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/fabrik/internal/store"
)

func seedJournal(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "fabrik.db")
	t.Setenv("FABRIK_DB_PATH", dbPath)

	st, err := store.New(dbPath, 1)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateSession(&store.Session{ID: "s1", Env: "hd", Name: "ws-1", Status: "running"}))
	require.NoError(t, st.CreateSession(&store.Session{ID: "c1", Env: "docker", Image: "busybox", Name: "ws-2", Status: "created"}))
	require.NoError(t, st.MarkDestroyed("docker", "c1"))
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestJournalLs(t *testing.T) {
	seedJournal(t)

	out, err := runRoot(t, "journal", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "ENV")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "destroyed")

	out, err = runRoot(t, "journal", "ls", "--env", "hd")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.NotContains(t, out, "c1")
}

func TestJournalShow(t *testing.T) {
	seedJournal(t)

	out, err := runRoot(t, "journal", "show", "docker", "c1")
	require.NoError(t, err)
	var rec store.Session
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, "busybox", rec.Image)
	assert.Equal(t, store.StatusDestroyed, rec.Status)

	_, err = runRoot(t, "journal", "show", "hd", "ghost")
	assert.EqualError(t, err, "no journal record for hd/ghost")
}

func TestPrintJournal(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	records := []*store.Session{
		{Env: "hd", ID: "s1", Name: "ws-1", Status: "running", UpdatedAt: now.Add(-2 * time.Hour)},
	}
	var out bytes.Buffer
	require.NoError(t, printJournal(&out, records, now))
	assert.Contains(t, out.String(), "SESSION ID")
	assert.Contains(t, out.String(), "2 hours ago")
	assert.Contains(t, out.String(), " - ")
}
