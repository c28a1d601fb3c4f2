package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// ActivityLogs curates the activity fact. Activity events are immutable:
// a replayed activity_id is silently dropped rather than updated, so
// re-processing a landed file never inflates engagement measures.
type ActivityLogs struct{}

func (ActivityLogs) Name() string     { return "activity_logs" }
func (ActivityLogs) RawTable() string { return "raw_activity_logs" }
func (ActivityLogs) Stage() Stage     { return StageFacts }

func (ActivityLogs) Dimension() (resolve.Dimension, bool) { return resolve.Dimension{}, false }

func (ActivityLogs) Convert(ctx context.Context, data []byte, r *resolve.Resolver) ([]any, error) {
	p, activityID, err := parsePayloadKeyed(data, "activity_id")
	if err != nil {
		return nil, err
	}

	studentKey, err := r.Lookup(ctx, resolve.Students, p.str("student_id"))
	if err != nil {
		return nil, err
	}
	courseKey, err := r.Lookup(ctx, resolve.Courses, p.str("course_id"))
	if err != nil {
		return nil, err
	}

	return []any{
		activityID,
		studentKey,
		courseKey,
		p.strPtr("student_id"),
		p.strPtr("course_id"),
		p.strPtr("activity_type"),
		p.timePtr("activity_timestamp"),
		p.int64Ptr("duration_seconds"),
		p.strPtr("page_url"),
		p.strPtr("device_type"),
		p.strPtr("browser"),
		p.strPtr("ip_address"),
	}, nil
}

func (ActivityLogs) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.fact_activity_logs",
		Columns: []string{
			"activity_id", "student_key", "course_key", "student_id", "course_id",
			"activity_type", "activity_timestamp", "duration_seconds", "page_url",
			"device_type", "browser", "ip_address",
		},
		ConflictKeys: []string{"activity_id"},
		DoNothing:    true,
	}
}
