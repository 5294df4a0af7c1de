package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tapedeck/internal/session"
)

// Store persists session records in a SQLite database. One writer at a time
// is expected; busy_timeout covers the occasional overlap with readers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    state         TEXT NOT NULL,
    quality       TEXT NOT NULL,
    format        TEXT NOT NULL,
    fixed_seconds INTEGER NOT NULL DEFAULT 0,
    started_at    TIMESTAMP NOT NULL,
    stopped_at    TIMESTAMP,
    output_path   TEXT NOT NULL DEFAULT '',
    partial       INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create inserts a new session record in its initial state.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return errors.New("session id required")
	}
	if sess.State == "" {
		sess.State = session.StateRecording
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, state, quality, format, fixed_seconds, started_at, output_path, error, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.State), sess.Quality.Name, string(sess.Format),
		int64(sess.Policy.Fixed/time.Second), sess.StartedAt.UTC(),
		sess.Output, sess.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateState advances a session, enforcing the forward-only state machine.
func (s *Store) UpdateState(ctx context.Context, id string, next session.State) error {
	if !next.Valid() {
		return fmt.Errorf("invalid state %q", next)
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.State.CanTransition(next) {
		return fmt.Errorf("session %s: illegal transition %s -> %s", id, current.State, next)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(next), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return nil
}

// MarkCompleted records success and the final artifact path. partial marks
// artifacts built from a single surviving channel.
func (s *Store) MarkCompleted(ctx context.Context, id, outputPath string, partial bool) error {
	if err := s.UpdateState(ctx, id, session.StateCompleted); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET output_path = ?, partial = ?, stopped_at = COALESCE(stopped_at, ?), updated_at = ? WHERE id = ?`,
		outputPath, partial, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark session %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed records a failure message. Legal from any non-terminal state.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	if err := s.UpdateState(ctx, id, session.StateFailed); err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET error = ?, stopped_at = COALESCE(stopped_at, ?), updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark session %s failed: %w", id, err)
	}
	return nil
}

// SetStoppedAt stamps the moment capture ended.
func (s *Store) SetStoppedAt(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("stamp session %s: %w", id, err)
	}
	return nil
}

// GetByID fetches one session, or session.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, state, quality, format, fixed_seconds, started_at, stopped_at, output_path, partial, error
FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return sess, err
}

// List returns sessions newest-first, optionally filtered by state.
func (s *Store) List(ctx context.Context, states ...session.State) ([]*session.Session, error) {
	query := `
SELECT id, state, quality, format, fixed_seconds, started_at, stopped_at, output_path, partial, error
FROM sessions`
	var args []any
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE state IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY started_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListUnfinished returns sessions left in a non-terminal state, oldest first.
// These are recovery candidates after a crash.
func (s *Store) ListUnfinished(ctx context.Context) ([]*session.Session, error) {
	sessions, err := s.List(ctx, session.StateRecording, session.StateStopping, session.StateMerging)
	if err != nil {
		return nil, err
	}
	// List is newest-first; recovery wants the oldest wreckage first.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess         session.Session
		state        string
		quality      string
		format       string
		fixedSeconds int64
		stoppedAt    sql.NullTime
	)
	err := row.Scan(&sess.ID, &state, &quality, &format, &fixedSeconds,
		&sess.StartedAt, &stoppedAt, &sess.Output, &sess.Partial, &sess.Error)
	if err != nil {
		return nil, err
	}
	sess.State = session.State(state)
	if q, err := session.ParseQuality(quality); err == nil {
		sess.Quality = q
	} else {
		sess.Quality = session.Quality{Name: quality}
	}
	sess.Format = session.Format(format)
	sess.Policy = session.DurationPolicy{Fixed: time.Duration(fixedSeconds) * time.Second}
	if stoppedAt.Valid {
		sess.StoppedAt = stoppedAt.Time
	}
	return &sess, nil
}
