package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"cadreline/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func TestRunnerRetriesBusyStorage(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE plans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var retried []string
	r := Runner{DB: conn, MaxAttempts: 3, BaseDelay: time.Millisecond, OnRetry: func(op string) { retried = append(retried, op) }}
	runs := 0
	err := r.Do(context.Background(), "plan.apply", func(ctx context.Context, tx *sql.Tx) error {
		runs++
		_, err := tx.ExecContext(ctx, "UPDATE plans SET status='APPLIED'")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, runs)
	require.Equal(t, []string{"plan.apply"}, retried)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnError(errors.New("database table is locked"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnError(errors.New("database table is locked"))
	mock.ExpectRollback()

	r := Runner{DB: conn, MaxAttempts: 2, BaseDelay: time.Millisecond}
	err := r.Do(context.Background(), "unit.create", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO org_units DEFAULT VALUES")
		return err
	})
	var su *domain.StorageUnavailableError
	require.ErrorAs(t, err, &su)
	require.Equal(t, "unit.create", su.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerDoesNotRetryDomainErrors(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	r := Runner{DB: conn, MaxAttempts: 5, BaseDelay: time.Millisecond}
	runs := 0
	want := &domain.CycleError{UnitID: "a", ParentID: "b"}
	err := r.Do(context.Background(), "unit.move", func(context.Context, *sql.Tx) error {
		runs++
		return want
	})
	require.ErrorIs(t, err, domain.ErrCycle)
	require.Equal(t, 1, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerClassifiesCommitFailure(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("SQLITE_BUSY"))

	r := Runner{DB: conn, MaxAttempts: 1}
	err := r.Do(context.Background(), "plan.submit", func(context.Context, *sql.Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify("op", nil))

	plain := errors.New("no such table: plans")
	require.Same(t, plain, Classify("op", plain))

	err := Classify("op", errors.Wrap(context.DeadlineExceeded, "query"))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.True(t, IsBusy(errors.New("database is locked")))
	require.False(t, IsBusy(errors.New("constraint failed")))
	require.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: org_units.code"), "org_units.code"))
	require.False(t, IsUniqueViolation(nil, "org_units.code"))
}
