package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// StatusDestroyed marks a journal record whose session has been torn down.
// It is never reported to callers as a live SessionStatus.
const StatusDestroyed = "destroyed"

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Session is the journal record of one session, written by the backend that
// owns it so a later process can find what it left behind.
type Session struct {
	ID           string    `json:"id"`
	Env          string    `json:"env"`
	Image        string    `json:"image"`
	Name         string    `json:"name"`
	WorkspaceDir string    `json:"workspace_dir"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	env           TEXT NOT NULL,
	id            TEXT NOT NULL,
	image         TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	workspace_dir TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'created',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (env, id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (backends + reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
// An in-memory database is limited to one connection so every caller sees it.
func New(dbPath string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	if dbPath == ":memory:" {
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (env, id, image, name, workspace_dir, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.Env, sess.ID, sess.Image, sess.Name, sess.WorkspaceDir, sess.Status,
			sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession returns the record for env/id, or nil if there is none.
func (s *Store) GetSession(env, id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT env, id, image, name, workspace_dir, status, created_at, updated_at
		 FROM sessions WHERE env = ? AND id = ?`, env, id,
	)
	return scanSession(row)
}

func (s *Store) ListSessions(env string) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT env, id, image, name, workspace_dir, status, created_at, updated_at
		 FROM sessions WHERE env = ? ORDER BY created_at DESC`, env,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListLiveSessions returns the records of env that were never marked destroyed.
func (s *Store) ListLiveSessions(env string) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT env, id, image, name, workspace_dir, status, created_at, updated_at
		 FROM sessions WHERE env = ? AND status != ? ORDER BY created_at`, env, StatusDestroyed,
	)
	if err != nil {
		return nil, fmt.Errorf("listing live sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) UpdateSessionStatus(env, id, status string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET status = ?, updated_at = ? WHERE env = ? AND id = ?`,
			status, time.Now().UTC(), env, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return checkRowAffected(result, id)
}

func (s *Store) MarkDestroyed(env, id string) error {
	return s.UpdateSessionStatus(env, id, StatusDestroyed)
}

// PurgeDestroyed deletes destroyed records last updated before cutoff.
func (s *Store) PurgeDestroyed(before time.Time) (int64, error) {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`DELETE FROM sessions WHERE status = ? AND updated_at < ?`, StatusDestroyed, before.UTC(),
		)
		return e
	})
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return result.RowsAffected()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.Env, &sess.ID, &sess.Image, &sess.Name, &sess.WorkspaceDir, &sess.Status,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}
