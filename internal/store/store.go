package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    target      TEXT NOT NULL,
    goal        TEXT NOT NULL DEFAULT '',
    persona     TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    steps       INTEGER NOT NULL,
    max_steps   INTEGER NOT NULL,
    final_url   TEXT NOT NULL DEFAULT '',
    final_title TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS session_steps (
    session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    step          INTEGER NOT NULL,
    success       BOOLEAN NOT NULL,
    instruction   TEXT NOT NULL,
    intent        TEXT NOT NULL DEFAULT '',
    strategy      TEXT NOT NULL DEFAULT '',
    fallback      TEXT NOT NULL DEFAULT '',
    resulting_url TEXT NOT NULL DEFAULT '',
    error_code    TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL,
    PRIMARY KEY (session_id, step)
);
`

const insertSessionSQL = `
INSERT INTO sessions (id, target, goal, persona, reason, error, steps, max_steps, final_url, final_title, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    reason = EXCLUDED.reason,
    error = EXCLUDED.error,
    steps = EXCLUDED.steps,
    final_url = EXCLUDED.final_url,
    final_title = EXCLUDED.final_title,
    finished_at = EXCLUDED.finished_at;
`

const deleteStepsSQL = `DELETE FROM session_steps WHERE session_id = $1;`

const recentSessionsSQL = `
SELECT id, target, goal, reason, steps, final_url, started_at, finished_at
FROM sessions
ORDER BY started_at DESC
LIMIT $1;
`

var stepColumns = []string{
	"session_id", "step", "success", "instruction", "intent", "strategy", "fallback",
	"resulting_url", "error_code", "error", "started_at", "duration_ms",
}

// Store persists session reports to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.HistoryStore = (*Store)(nil)

// New wraps an existing pool.
func New(pool DBPool, logger *zap.Logger) *Store {
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}
}

// Connect opens a pool for url, verifies the connection and creates the
// tables if needed. The returned func closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := New(pool, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the sessions and session_steps tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSession writes the session row and its steps in one transaction.
// Saving the same session again replaces its steps.
func (s *Store) SaveSession(ctx context.Context, report *schemas.SessionReport) error {
	if report == nil || report.SessionID == "" {
		return errors.New("session report has no session id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertSessionSQL,
		report.SessionID, report.Target, report.Goal, report.Persona,
		string(report.Reason), report.Error, report.Steps, report.MaxSteps,
		report.FinalURL, report.FinalTitle,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", report.SessionID, err)
	}

	if _, err := tx.Exec(ctx, deleteStepsSQL, report.SessionID); err != nil {
		return fmt.Errorf("failed to clear steps for session %s: %w", report.SessionID, err)
	}

	if len(report.History) > 0 {
		if err := s.persistSteps(ctx, tx, report.SessionID, report.History); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Session persisted.", zap.String("session_id", report.SessionID), zap.Int("steps", len(report.History)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, sessionID string, steps []schemas.StepResult) error {
	rows := make([][]interface{}, len(steps))
	for i, st := range steps {
		rows[i] = []interface{}{
			sessionID, st.Step, st.Success, st.Action.String(),
			string(st.Intent), st.Strategy, st.Fallback,
			st.ResultingURL, st.ErrorCode, st.Error,
			st.StartedAt.UTC(), st.Duration.Milliseconds(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"session_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

// SessionSummary is one row of the run history.
type SessionSummary struct {
	ID         string
	Target     string
	Goal       string
	Reason     schemas.TerminationReason
	Steps      int
	FinalURL   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, recentSessionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var reason string
		if err := rows.Scan(&sum.ID, &sum.Target, &sum.Goal, &reason, &sum.Steps, &sum.FinalURL, &sum.StartedAt, &sum.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.Reason = schemas.TerminationReason(reason)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
