package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Courses curates the course dimension.
type Courses struct{}

func (Courses) Name() string     { return "courses" }
func (Courses) RawTable() string { return "raw_courses" }
func (Courses) Stage() Stage     { return StageDimensions }

func (Courses) Dimension() (resolve.Dimension, bool) { return resolve.Courses, true }

func (Courses) Convert(_ context.Context, data []byte, _ *resolve.Resolver) ([]any, error) {
	p, courseID, err := parsePayloadKeyed(data, "course_id")
	if err != nil {
		return nil, err
	}

	return []any{
		courseID,
		p.int64Ptr("canvas_course_id"),
		p.strPtr("course_code"),
		p.strPtr("course_name"),
		p.strPtr("department"),
		p.intPtr("credit_hours"),
		p.strPtr("course_level"),
		p.strPtr("delivery_mode"),
		p.strPtr("term"),
		p.strPtr("academic_year"),
		p.strPtr("instructor_id"),
		p.strPtr("instructor_name"),
		p.timePtr("start_date"),
		p.timePtr("end_date"),
		p.intPtr("max_enrollment"),
	}, nil
}

func (Courses) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.dim_courses",
		Columns: []string{
			"course_id", "canvas_course_id", "course_code", "course_name", "department",
			"credit_hours", "course_level", "delivery_mode", "term", "academic_year",
			"instructor_id", "instructor_name", "start_date", "end_date", "max_enrollment",
		},
		ConflictKeys: []string{"course_id"},
		TouchUpdated: true,
	}
}
