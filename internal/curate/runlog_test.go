package curate

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRunLogStart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO lms_curated\.run_log`).
		WithArgs("merge.students").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	rl := NewRunLog(mock)
	id, err := rl.Start(context.Background(), "merge.students")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogComplete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE lms_curated\.run_log\s+SET status = 'complete'`).
		WithArgs(int64(42), pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rl := NewRunLog(mock)
	err = rl.Complete(context.Background(), 7, &RunResult{
		RowsAffected: 42,
		Metadata:     map[string]any{"claimed": 50, "errored": 8},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogCompleteNilResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE lms_curated\.run_log`).
		WithArgs(int64(0), []byte(nil), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rl := NewRunLog(mock)
	require.NoError(t, rl.Complete(context.Background(), 3, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogFail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE lms_curated\.run_log\s+SET status = 'failed'`).
		WithArgs("merge failed: boom", int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rl := NewRunLog(mock)
	require.NoError(t, rl.Fail(context.Background(), 9, "merge failed: boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogListRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(30 * time.Second)
	errMsg := "upstream timeout"

	mock.ExpectQuery(`SELECT id, component, status, started_at, completed_at, rows_affected, error, metadata\s+FROM lms_curated\.run_log`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "component", "status", "started_at", "completed_at", "rows_affected", "error", "metadata",
		}).
			AddRow(int64(2), "aggregate", "failed", started, &completed, int64(0), &errMsg, []byte(nil)).
			AddRow(int64(1), "merge.students", "complete", started, &completed, int64(120), (*string)(nil), []byte(`{"claimed":120}`)))

	rl := NewRunLog(mock)
	entries, err := rl.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "aggregate", entries[0].Component)
	assert.Equal(t, "upstream timeout", entries[0].Error)
	assert.Equal(t, int64(120), entries[1].RowsAffected)
	assert.Equal(t, float64(120), entries[1].Metadata["claimed"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogLastSuccessNone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT started_at FROM lms_curated\.run_log`).
		WithArgs("audit").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}))

	rl := NewRunLog(mock)
	ts, err := rl.LastSuccess(context.Background(), "audit")
	require.NoError(t, err)
	assert.Nil(t, ts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
