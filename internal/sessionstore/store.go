package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no session matches the requested id.
var ErrNotFound = errors.New("session not found")

// Store manages export session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database under dir and
// applies migrations.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new session in the profiling phase.
func (s *Store) Create(ctx context.Context, id, sourcePath, outputPath string) (*Session, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO export_sessions (id, source_path, output_path, phase, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, sourcePath, outputPath, PhaseProfiling, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, id)
}

// SetPhase advances the session's phase.
func (s *Store) SetPhase(ctx context.Context, id string, phase Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", phase)
	}
	return s.update(ctx, id,
		"UPDATE export_sessions SET phase = ?, updated_at = ? WHERE id = ?",
		phase, timestamp(), id,
	)
}

// SetPlan records the planning outcome.
func (s *Store) SetPlan(ctx context.Context, id string, useParallel bool, workerCount, concurrency, chunkCount, totalFrames int) error {
	return s.update(ctx, id,
		`UPDATE export_sessions
         SET use_parallel = ?, worker_count = ?, concurrency = ?, chunk_count = ?, total_frames = ?, updated_at = ?
         WHERE id = ?`,
		boolToInt(useParallel), workerCount, concurrency, chunkCount, totalFrames, timestamp(), id,
	)
}

// SetProgress records the latest aggregated progress.
func (s *Store) SetProgress(ctx context.Context, id string, percent float64, stage, message string) error {
	return s.update(ctx, id,
		`UPDATE export_sessions
         SET progress_percent = ?, progress_stage = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		percent, stage, message, timestamp(), id,
	)
}

// Finish moves the session to a terminal phase, recording the error
// taxonomy for failures.
func (s *Store) Finish(ctx context.Context, id string, phase Phase, errorKind, errorMessage string) error {
	if !phase.Terminal() {
		return fmt.Errorf("phase %q is not terminal", phase)
	}
	now := timestamp()
	return s.update(ctx, id,
		`UPDATE export_sessions
         SET phase = ?, error_kind = ?, error_message = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		phase, errorKind, errorMessage, now, now, id,
	)
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// Active returns the non-terminal session, if any. The daemon enforces at
// most one.
func (s *Store) Active(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE phase NOT IN (?, ?, ?) ORDER BY created_at DESC LIMIT 1`,
		PhaseSucceeded, PhaseFailed, PhaseCancelled,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// List returns the most recent sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ReclaimStale fails any session left non-terminal by a previous daemon run.
// Called once at startup, before new sessions are accepted.
func (s *Store) ReclaimStale(ctx context.Context) (int64, error) {
	now := timestamp()
	res, err := s.db.ExecContext(ctx,
		`UPDATE export_sessions
         SET phase = ?, error_kind = 'worker_spawn', error_message = ?, updated_at = ?, completed_at = ?
         WHERE phase NOT IN (?, ?, ?)`,
		PhaseFailed, DaemonRestartReason, now, now,
		PhaseSucceeded, PhaseFailed, PhaseCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted deletes terminal sessions and reports how many were removed.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM export_sessions WHERE phase IN (?, ?, ?)",
		PhaseSucceeded, PhaseFailed, PhaseCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear completed sessions: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `SELECT id, source_path, output_path, phase, use_parallel, worker_count,
    concurrency, chunk_count, total_frames, progress_percent, progress_stage,
    progress_message, error_kind, error_message, created_at, updated_at, completed_at
    FROM export_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session     Session
		useParallel int
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(
		&session.ID, &session.SourcePath, &session.OutputPath, &session.Phase,
		&useParallel, &session.WorkerCount, &session.Concurrency,
		&session.ChunkCount, &session.TotalFrames, &session.ProgressPercent,
		&session.ProgressStage, &session.ProgressMessage,
		&session.ErrorKind, &session.ErrorMessage,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	session.UseParallel = useParallel != 0
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		session.CompletedAt = &t
	}
	return &session, nil
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
