package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Submissions curates the submission fact.
type Submissions struct{}

func (Submissions) Name() string     { return "submissions" }
func (Submissions) RawTable() string { return "raw_submissions" }
func (Submissions) Stage() Stage     { return StageFacts }

func (Submissions) Dimension() (resolve.Dimension, bool) { return resolve.Dimension{}, false }

func (Submissions) Convert(ctx context.Context, data []byte, r *resolve.Resolver) ([]any, error) {
	p, submissionID, err := parsePayloadKeyed(data, "submission_id")
	if err != nil {
		return nil, err
	}

	studentKey, err := r.Lookup(ctx, resolve.Students, p.str("student_id"))
	if err != nil {
		return nil, err
	}
	assignmentKey, err := r.Lookup(ctx, resolve.Assignments, p.str("assignment_id"))
	if err != nil {
		return nil, err
	}

	score := p.floatPtr("score")
	pointsPossible := p.floatPtr("points_possible")
	percentage := p.floatPtr("percentage")
	if percentage == nil && score != nil && pointsPossible != nil && *pointsPossible > 0 {
		pct := *score / *pointsPossible * 100
		percentage = &pct
	}

	return []any{
		submissionID,
		studentKey,
		assignmentKey,
		p.strPtr("student_id"),
		p.strPtr("assignment_id"),
		p.timePtr("submitted_at"),
		p.timePtr("graded_at"),
		score,
		p.strPtr("grade"),
		pointsPossible,
		percentage,
		p.strPtr("submission_type"),
		p.intPtr("attempt_number"),
		p.boolPtr("late_flag"),
		p.boolPtr("missing_flag"),
		p.boolPtr("excused_flag"),
		p.strPtr("grader_id"),
	}, nil
}

func (Submissions) Upsert() db.UpsertConfig {
	return db.UpsertConfig{
		Table: "lms_curated.fact_submissions",
		Columns: []string{
			"submission_id", "student_key", "assignment_key", "student_id", "assignment_id",
			"submitted_at", "graded_at", "score", "grade", "points_possible", "percentage",
			"submission_type", "attempt_number", "late_flag", "missing_flag", "excused_flag",
			"grader_id",
		},
		ConflictKeys: []string{"submission_id"},
		TouchUpdated: true,
	}
}
