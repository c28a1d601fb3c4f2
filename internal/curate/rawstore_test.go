package curate

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStoreAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(
		[]string{"lms_raw", "raw_students"},
		[]string{"raw_id", "payload", "source_system", "file_name"},
	).WillReturnResult(2)

	var rs RawStore
	n, err := rs.Append(context.Background(), mock, "raw_students", []RawRecord{
		{RawID: "a", Payload: []byte(`{"student_id":"S1"}`), SourceSystem: "canvas", FileName: "students.jsonl"},
		{RawID: "b", Payload: []byte(`{"student_id":"S2"}`), SourceSystem: "canvas", FileName: "students.jsonl"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStoreAppendEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var rs RawStore
	n, err := rs.Append(context.Background(), mock, "raw_students", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStoreClaimPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ingested := time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE lms_raw\.raw_courses SET processing_status = 'IN_PROGRESS'`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"raw_id", "payload", "source_system", "file_name", "ingested_at"}).
			AddRow("r1", []byte(`{"course_id":"C1"}`), strPtr("canvas"), strPtr("courses.jsonl"), ingested).
			AddRow("r2", []byte(`{"course_id":"C2"}`), (*string)(nil), (*string)(nil), ingested))

	var rs RawStore
	records, err := rs.ClaimPending(context.Background(), mock, "raw_courses", 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].RawID)
	assert.Equal(t, "canvas", records[0].SourceSystem)
	assert.Equal(t, ingested, records[0].IngestedAt)
	assert.Empty(t, records[1].SourceSystem)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }

func TestRawStoreClaimPendingNoLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`UPDATE lms_raw\.raw_courses SET processing_status = 'IN_PROGRESS'`).
		WillReturnRows(pgxmock.NewRows([]string{"raw_id", "payload", "source_system", "file_name", "ingested_at"}))

	var rs RawStore
	records, err := rs.ClaimPending(context.Background(), mock, "raw_courses", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStoreMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE lms_raw\.raw_submissions SET processing_status = 'PROCESSED'`).
		WithArgs([]string{"r1", "r2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	var rs RawStore
	require.NoError(t, rs.MarkProcessed(context.Background(), mock, "raw_submissions", []string{"r1", "r2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStoreMarkProcessedEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var rs RawStore
	require.NoError(t, rs.MarkProcessed(context.Background(), mock, "raw_submissions", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStoreMarkError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE lms_raw\.raw_enrollments SET processing_status = 'ERROR'`).
		WithArgs("missing enrollment_id", "r9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var rs RawStore
	require.NoError(t, rs.MarkError(context.Background(), mock, "raw_enrollments", "r9", "missing enrollment_id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStorePendingCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM lms_raw\.raw_students`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM lms_raw\.raw_courses`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	var rs RawStore
	counts, err := rs.PendingCounts(context.Background(), mock, []string{"raw_students", "raw_courses"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts["raw_students"])
	assert.Equal(t, int64(0), counts["raw_courses"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
