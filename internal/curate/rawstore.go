package curate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/campus-analytics/curate-cli/internal/db"
)

// Raw landing record statuses.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusProcessed  = "PROCESSED"
	StatusError      = "ERROR"
)

// RawRecord is one row from a raw landing table. Payload is the original
// source document, untouched.
type RawRecord struct {
	RawID        string
	Payload      []byte
	SourceSystem string
	FileName     string
	IngestedAt   time.Time
}

// RawStore provides access to the append-only lms_raw landing tables.
// Every operation takes a db.Queryer so callers can run it inside their
// own transaction; claims made inside a transaction that rolls back
// revert to PENDING automatically.
type RawStore struct{}

// Append lands new raw records into the given landing table. Records are
// immutable once landed; only processing_status and processing_error change.
func (RawStore) Append(ctx context.Context, q db.Queryer, table string, records []RawRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{rec.RawID, rec.Payload, rec.SourceSystem, rec.FileName})
	}
	n, err := db.CopyFromSchema(ctx, q, "lms_raw", table, []string{"raw_id", "payload", "source_system", "file_name"}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "rawstore: append to %s", table)
	}
	return n, nil
}

// ClaimPending flips PENDING records in a landing table to IN_PROGRESS and
// returns them, oldest first. A limit of zero or less claims everything.
// Must run inside a transaction: rollback reverts the claim.
func (RawStore) ClaimPending(ctx context.Context, q db.Queryer, table string, limit int) ([]RawRecord, error) {
	sql := `UPDATE lms_raw.` + table + ` SET processing_status = 'IN_PROGRESS'
		WHERE raw_id IN (
			SELECT raw_id FROM lms_raw.` + table + `
			WHERE processing_status = 'PENDING'
			ORDER BY ingested_at`
	args := []any{}
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}
	sql += `
			FOR UPDATE SKIP LOCKED
		)
		RETURNING raw_id, payload, source_system, file_name, ingested_at`

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "rawstore: claim pending from %s", table)
	}
	defer rows.Close()

	var records []RawRecord
	for rows.Next() {
		var rec RawRecord
		var sourceSystem, fileName *string
		if err := rows.Scan(&rec.RawID, &rec.Payload, &sourceSystem, &fileName, &rec.IngestedAt); err != nil {
			return nil, eris.Wrapf(err, "rawstore: scan claimed record from %s", table)
		}
		if sourceSystem != nil {
			rec.SourceSystem = *sourceSystem
		}
		if fileName != nil {
			rec.FileName = *fileName
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkProcessed flips the given claimed records to PROCESSED.
func (RawStore) MarkProcessed(ctx context.Context, q db.Queryer, table string, rawIDs []string) error {
	if len(rawIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`UPDATE lms_raw.`+table+` SET processing_status = 'PROCESSED', processing_error = NULL
		 WHERE raw_id = ANY($1)`,
		rawIDs,
	)
	if err != nil {
		return eris.Wrapf(err, "rawstore: mark processed in %s", table)
	}
	return nil
}

// MarkError flips a single record to ERROR with a diagnostic reason.
// The record stays ERROR until a human intervenes; it is never re-claimed.
func (RawStore) MarkError(ctx context.Context, q db.Queryer, table, rawID, reason string) error {
	_, err := q.Exec(ctx,
		`UPDATE lms_raw.`+table+` SET processing_status = 'ERROR', processing_error = $1
		 WHERE raw_id = $2`,
		reason, rawID,
	)
	if err != nil {
		return eris.Wrapf(err, "rawstore: mark error in %s", table)
	}
	return nil
}

// PendingCounts returns the number of PENDING records per landing table.
func (RawStore) PendingCounts(ctx context.Context, q db.Queryer, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		err := q.QueryRow(ctx,
			`SELECT count(*) FROM lms_raw.`+table+` WHERE processing_status = 'PENDING'`,
		).Scan(&n)
		if err != nil {
			return nil, eris.Wrapf(err, "rawstore: count pending in %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}
