package aggregate

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/campus-analytics/curate-cli/internal/db"
)

// LoadSnapshot reads the curated tables an aggregation pass needs. Each
// table is read independently; the recomputer runs the whole pass inside
// one repeatable-read transaction so the reads are mutually consistent.
func LoadSnapshot(ctx context.Context, q db.Queryer) (*Snapshot, error) {
	snap := &Snapshot{
		Students: make(map[string]bool),
		Courses:  make(map[string]Course),
	}

	rows, err := q.Query(ctx, `SELECT student_id FROM lms_curated.dim_students`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load students")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan student")
		}
		snap.Students[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read students")
	}

	rows, err = q.Query(ctx, `SELECT course_id, COALESCE(term, '') FROM lms_curated.dim_courses`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load courses")
	}
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.CourseID, &c.Term); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan course")
		}
		snap.Courses[c.CourseID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read courses")
	}

	rows, err = q.Query(ctx, `SELECT assignment_id, COALESCE(course_id, '') FROM lms_curated.dim_assignments`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load assignments")
	}
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.AssignmentID, &a.CourseID); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan assignment")
		}
		snap.Assignments = append(snap.Assignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read assignments")
	}

	rows, err = q.Query(ctx, `
		SELECT COALESCE(student_id, ''), COALESCE(course_id, ''),
		       COALESCE(enrollment_state, ''), final_grade, final_score, enrolled_at
		FROM lms_curated.fact_enrollments`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load enrollments")
	}
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.StudentID, &e.CourseID, &e.State, &e.FinalGrade, &e.FinalScore, &e.EnrolledAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan enrollment")
		}
		snap.Enrollments = append(snap.Enrollments, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read enrollments")
	}

	rows, err = q.Query(ctx, `
		SELECT COALESCE(student_id, ''), COALESCE(assignment_id, ''),
		       score, points_possible, percentage,
		       COALESCE(late_flag, false), COALESCE(missing_flag, false)
		FROM lms_curated.fact_submissions`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load submissions")
	}
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.StudentID, &s.AssignmentID, &s.Score, &s.PointsPossible, &s.Percentage, &s.Late, &s.Missing); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan submission")
		}
		snap.Submissions = append(snap.Submissions, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read submissions")
	}

	rows, err = q.Query(ctx, `
		SELECT COALESCE(student_id, ''), COALESCE(course_id, ''),
		       COALESCE(duration_seconds, 0), activity_timestamp
		FROM lms_curated.fact_activity_logs`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load activity")
	}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.StudentID, &a.CourseID, &a.DurationSeconds, &a.Timestamp); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "aggregate: scan activity")
		}
		snap.Activity = append(snap.Activity, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: read activity")
	}

	return snap, nil
}
