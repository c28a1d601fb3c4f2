package curate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/campus-analytics/curate-cli/internal/db"
)

// RunEntry represents a row in lms_curated.run_log.
type RunEntry struct {
	ID           int64          `json:"id"`
	Component    string         `json:"component"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RowsAffected int64          `json:"rows_affected"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunResult holds the outcome of a component invocation, passed to Complete().
type RunResult struct {
	RowsAffected int64          `json:"rows_affected"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the lms_curated.run_log table.
// One entry is written per component invocation (per-entity merge,
// aggregate refresh, audit pass).
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a new RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a component invocation and returns its ID.
func (r *RunLog) Start(ctx context.Context, component string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO lms_curated.run_log (component, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		component,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", component)
	}
	return id, nil
}

// Complete marks an invocation as successfully completed.
func (r *RunLog) Complete(ctx context.Context, runID int64, result *RunResult) error {
	var metaJSON []byte
	if result != nil && result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	rowsAffected := int64(0)
	if result != nil {
		rowsAffected = result.RowsAffected
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE lms_curated.run_log
		 SET status = 'complete', completed_at = now(), rows_affected = $1, metadata = $2
		 WHERE id = $3`,
		rowsAffected, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks an invocation as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE lms_curated.run_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// LastSuccess returns the started_at time of the most recent completed
// invocation for a component. Returns nil if it has never completed.
func (r *RunLog) LastSuccess(ctx context.Context, component string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM lms_curated.run_log
		 WHERE component = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		component,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", component)
	}
	return &t, nil
}

// ListRecent returns the most recent run log entries, newest first.
func (r *RunLog) ListRecent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, component, status, started_at, completed_at, rows_affected, error, metadata
		 FROM lms_curated.run_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Component, &e.Status, &e.StartedAt, &completedAt, &e.RowsAffected, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
