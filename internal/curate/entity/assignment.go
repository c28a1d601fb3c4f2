package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Assignments curates the assignment dimension. It merges after courses
// so the catalog is complete before submission facts resolve against it.
type Assignments struct{}

func (Assignments) Name() string     { return "assignments" }
func (Assignments) RawTable() string { return "raw_assignments" }
func (Assignments) Stage() Stage     { return StageCatalog }

func (Assignments) Dimension() (resolve.Dimension, bool) { return resolve.Assignments, true }

func (Assignments) Convert(_ context.Context, data []byte, _ *resolve.Resolver) ([]any, error) {
	p, assignmentID, err := parsePayloadKeyed(data, "assignment_id")
	if err != nil {
		return nil, err
	}

	return []any{
		assignmentID,
		p.int64Ptr("canvas_assignment_id"),
		p.strPtr("course_id"),
		p.strPtr("assignment_name"),
		p.strPtr("assignment_type"),
		p.floatPtr("points_possible"),
		p.timePtr("due_date"),
		p.timePtr("unlock_date"),
		p.timePtr("lock_date"),
		p.strPtr("submission_types"),
		p.boolPtr("is_group_assignment"),
		p.floatPtr("weight"),
	}, nil
}

func (Assignments) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.dim_assignments",
		Columns: []string{
			"assignment_id", "canvas_assignment_id", "course_id", "assignment_name",
			"assignment_type", "points_possible", "due_date", "unlock_date", "lock_date",
			"submission_types", "is_group_assignment", "weight",
		},
		ConflictKeys: []string{"assignment_id"},
		TouchUpdated: true,
	}
}
