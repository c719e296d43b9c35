package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newReport() *schemas.SessionReport {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &schemas.SessionReport{
		SessionID:  uuid.NewString(),
		Target:     "https://shop.test",
		Goal:       "buy coffee",
		Reason:     schemas.ReasonDone,
		Steps:      2,
		MaxSteps:   10,
		FinalURL:   "https://shop.test/cart",
		FinalTitle: "Cart",
		StartedAt:  start,
		FinishedAt: start.Add(5 * time.Second),
		History: []schemas.StepResult{
			{Step: 1, Success: true, Action: schemas.NewInstruction("click shop"), Intent: schemas.IntentClick, Strategy: "recipe", StartedAt: start, Duration: time.Second},
			{Step: 2, Success: false, Action: schemas.NewInstruction("click nothing"), Intent: schemas.IntentClick, Error: "target not found", ErrorCode: string(schemas.ErrCodeTargetNotFound), StartedAt: start.Add(time.Second), Duration: 2 * time.Second},
		},
	}
}

func expectSessionInsert(mock pgxmock.PgxPoolIface, r *schemas.SessionReport) *pgxmock.ExpectedExec {
	return mock.ExpectExec(flexibleSQLMatcher(insertSessionSQL)).
		WithArgs(
			r.SessionID, r.Target, r.Goal, r.Persona,
			string(r.Reason), r.Error, r.Steps, r.MaxSteps,
			r.FinalURL, r.FinalTitle,
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		)
}

func TestSaveSession(t *testing.T) {
	ctx := context.Background()

	t.Run("persists session and steps without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		core, logs := observer.New(zapcore.ErrorLevel)
		s := New(mockPool, zap.New(core))
		report := newReport()

		mockPool.ExpectBegin()
		expectSessionInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(deleteStepsSQL)).
			WithArgs(report.SessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"session_steps"}, stepColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveSession(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "no errors logged on a committed transaction")
	})

	t.Run("skips the copy when there are no steps", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		report := newReport()
		report.History = nil
		report.Steps = 0
		report.Reason = schemas.ReasonExhausted

		mockPool.ExpectBegin()
		expectSessionInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(deleteStepsSQL)).
			WithArgs(report.SessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveSession(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects a report without an id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		assert.Error(t, s.SaveSession(ctx, &schemas.SessionReport{}))
		assert.Error(t, s.SaveSession(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err = s.SaveSession(ctx, newReport())
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when the session insert fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		report := newReport()
		insertErr := errors.New("unique violation")

		mockPool.ExpectBegin()
		expectSessionInsert(mockPool, report).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err = s.SaveSession(ctx, report)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), report.SessionID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when copying steps fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		report := newReport()
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		expectSessionInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(deleteStepsSQL)).
			WithArgs(report.SessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"session_steps"}, stepColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = s.SaveSession(ctx, report)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("short copy count is an error", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, zap.NewNop())
		report := newReport()

		mockPool.ExpectBegin()
		expectSessionInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(deleteStepsSQL)).
			WithArgs(report.SessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"session_steps"}, stepColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err = s.SaveSession(ctx, report)
		assert.ErrorContains(t, err, "mismatch in copied steps count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, New(mockPool, zap.NewNop()).EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentSessions(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	now := time.Now().UTC()
	columns := []string{"id", "target", "goal", "reason", "steps", "final_url", "started_at", "finished_at"}
	rows := pgxmock.NewRows(columns).
		AddRow("s-2", "https://b.test", "browse", "exhausted", 3, "https://b.test/x", now, now.Add(time.Second)).
		AddRow("s-1", "https://a.test", "buy", "done", 5, "https://a.test/cart", now.Add(-time.Hour), now)

	mockPool.ExpectQuery(flexibleSQLMatcher(recentSessionsSQL)).
		WithArgs(20).
		WillReturnRows(rows)

	got, err := New(mockPool, zap.NewNop()).RecentSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s-2", got[0].ID)
	assert.Equal(t, schemas.ReasonDone, got[1].Reason)
	assert.Equal(t, 5, got[1].Steps)
	assert.True(t, got[0].StartedAt.Equal(now))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
