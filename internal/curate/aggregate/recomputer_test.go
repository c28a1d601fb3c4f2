package aggregate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-analytics/curate-cli/internal/curate"
)

func expectSnapshotLoad(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT student_id FROM lms_curated\.dim_students`).
		WillReturnRows(pgxmock.NewRows([]string{"student_id"}).AddRow("STU001"))
	mock.ExpectQuery(`SELECT course_id, COALESCE\(term, ''\) FROM lms_curated\.dim_courses`).
		WillReturnRows(pgxmock.NewRows([]string{"course_id", "term"}).AddRow("CRS100", "2025-FA"))
	mock.ExpectQuery(`SELECT assignment_id, COALESCE\(course_id, ''\) FROM lms_curated\.dim_assignments`).
		WillReturnRows(pgxmock.NewRows([]string{"assignment_id", "course_id"}).AddRow("ASG001", "CRS100"))
	mock.ExpectQuery(`FROM lms_curated\.fact_enrollments`).
		WillReturnRows(pgxmock.NewRows([]string{"student_id", "course_id", "enrollment_state", "final_grade", "final_score", "enrolled_at"}).
			AddRow("STU001", "CRS100", "active", sp("B"), fp(85.0), (*time.Time)(nil)))
	mock.ExpectQuery(`FROM lms_curated\.fact_submissions`).
		WillReturnRows(pgxmock.NewRows([]string{"student_id", "assignment_id", "score", "points_possible", "percentage", "late_flag", "missing_flag"}).
			AddRow("STU001", "ASG001", fp(85.0), fp(100.0), fp(85.0), false, false))
	mock.ExpectQuery(`FROM lms_curated\.fact_activity_logs`).
		WillReturnRows(pgxmock.NewRows([]string{"student_id", "course_id", "duration_seconds", "activity_timestamp"}).
			AddRow("STU001", "CRS100", int64(1200), (*time.Time)(nil)))
}

func TestRecomputerRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO lms_curated\.run_log`).
		WithArgs("aggregate").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ`).
		WillReturnResult(pgxmock.NewResult("SET", 0))

	expectSnapshotLoad(mock)

	mock.ExpectExec(`TRUNCATE TABLE lms_curated\.agg_student_course_performance`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectExec(`TRUNCATE TABLE lms_curated\.agg_course_analytics`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	mock.ExpectCopyFrom(
		[]string{"lms_curated", "agg_student_course_performance"},
		performanceColumns,
	).WillReturnResult(1)
	mock.ExpectCopyFrom(
		[]string{"lms_curated", "agg_course_analytics"},
		analyticsColumns,
	).WillReturnResult(1)
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE lms_curated\.run_log\s+SET status = 'complete'`).
		WithArgs(int64(2), pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := NewRecomputer(mock, curate.NewRunLog(mock))
	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.PerformanceRows)
	assert.Equal(t, 1, result.AnalyticsRows)
	assert.Empty(t, result.AtRiskStudents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputerLoadFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO lms_curated\.run_log`).
		WithArgs("aggregate").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT student_id FROM lms_curated\.dim_students`).
		WillReturnError(fmt.Errorf("connection lost"))
	mock.ExpectRollback()

	mock.ExpectExec(`UPDATE lms_curated\.run_log\s+SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := NewRecomputer(mock, curate.NewRunLog(mock))
	_, err = rec.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load students")
	assert.NoError(t, mock.ExpectationsWereMet())
}
