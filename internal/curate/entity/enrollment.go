package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Enrollments curates the enrollment fact. Student and course surrogate
// keys resolve left-outer: an enrollment for an unknown student still
// lands, carrying only its natural keys.
type Enrollments struct{}

func (Enrollments) Name() string     { return "enrollments" }
func (Enrollments) RawTable() string { return "raw_enrollments" }
func (Enrollments) Stage() Stage     { return StageFacts }

func (Enrollments) Dimension() (resolve.Dimension, bool) { return resolve.Dimension{}, false }

func (Enrollments) Convert(ctx context.Context, data []byte, r *resolve.Resolver) ([]any, error) {
	p, enrollmentID, err := parsePayloadKeyed(data, "enrollment_id")
	if err != nil {
		return nil, err
	}

	studentID := p.str("student_id")
	courseID := p.str("course_id")

	studentKey, err := r.Lookup(ctx, resolve.Students, studentID)
	if err != nil {
		return nil, err
	}
	courseKey, err := r.Lookup(ctx, resolve.Courses, courseID)
	if err != nil {
		return nil, err
	}

	return []any{
		enrollmentID,
		studentKey,
		courseKey,
		p.strPtr("student_id"),
		p.strPtr("course_id"),
		p.strPtr("enrollment_state"),
		p.strPtr("enrollment_type"),
		p.timePtr("enrolled_at"),
		p.timePtr("completed_at"),
		p.strPtr("final_grade"),
		p.floatPtr("final_score"),
	}, nil
}

func (Enrollments) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.fact_enrollments",
		Columns: []string{
			"enrollment_id", "student_key", "course_key", "student_id", "course_id",
			"enrollment_state", "enrollment_type", "enrolled_at", "completed_at",
			"final_grade", "final_score",
		},
		ConflictKeys: []string{"enrollment_id"},
		TouchUpdated: true,
	}
}
