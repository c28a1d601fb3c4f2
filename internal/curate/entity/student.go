package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Students curates the student dimension.
type Students struct{}

func (Students) Name() string     { return "students" }
func (Students) RawTable() string { return "raw_students" }
func (Students) Stage() Stage     { return StageDimensions }

func (Students) Dimension() (resolve.Dimension, bool) { return resolve.Students, true }

func (Students) Convert(_ context.Context, data []byte, _ *resolve.Resolver) ([]any, error) {
	p, studentID, err := parsePayloadKeyed(data, "student_id")
	if err != nil {
		return nil, err
	}

	return []any{
		studentID,
		p.int64Ptr("canvas_user_id"),
		p.strPtr("first_name"),
		p.strPtr("last_name"),
		p.strPtr("email"),
		p.strPtr("major"),
		p.strPtr("classification"),
		p.strPtr("enrollment_status"),
		p.timePtr("enrollment_date"),
		p.timePtr("expected_graduation"),
		p.floatPtr("gpa"),
		p.strPtr("advisor_id"),
	}, nil
}

func (Students) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.dim_students",
		Columns: []string{
			"student_id", "canvas_user_id", "first_name", "last_name", "email",
			"major", "classification", "enrollment_status", "enrollment_date",
			"expected_graduation", "gpa", "advisor_id",
		},
		ConflictKeys: []string{"student_id"},
		TouchUpdated: true,
	}
}
