//go:build !integration

package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-analytics/curate-cli/internal/curate/entity"
	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

func newTestServer(t *testing.T) (*server, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	srv := newServer(mock, resolve.New(mock, nil), 0, 60)
	return srv, mock
}

func TestServeHealth(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServeHealth_DatabaseDown(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestServeStatus(t *testing.T) {
	srv, mock := newTestServer(t)

	for range entity.NewRegistry().RawTables() {
		mock.ExpectQuery(`SELECT count\(\*\) FROM lms_raw\.`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	}

	started := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, component, status, started_at`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "component", "status", "started_at", "completed_at", "rows_affected", "error", "metadata",
		}).AddRow(int64(1), "merge.students", "complete", started, &started, int64(10), (*string)(nil), []byte(nil)))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"merge.students"`)
	assert.Contains(t, rec.Body.String(), `"pending"`)
	assert.Contains(t, rec.Body.String(), `"running":false`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServeStatus_DatabaseError(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM lms_raw\.`).
		WillReturnError(assert.AnError)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeRun_ConflictWhileRunning(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.running.Store(true)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestServeRun_UnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"job":"teachers"}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown job")
	assert.False(t, srv.running.Load())
}

func TestServeRun_EntityJobAccepted(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.running.Store(true) // job name validates, but the slot is taken

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"job":"students"}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServeRun_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.running.Store(true) // keep the pipeline from actually starting

	handler := srv.routes()

	// Burst of one: the first trigger consumes it, the second is limited.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

var _ db.Pool = (pgxmock.PgxPoolIface)(nil)
