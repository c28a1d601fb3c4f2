// Package audit runs data quality checks over the curated model and
// appends findings to lms_curated.data_quality_log. Checks observe and
// report; they never mutate the data they inspect.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// sampleLimit caps how many offending identifiers a finding records.
const sampleLimit = 20

// Check is one data quality rule. Query must return a single column of
// offending identifiers.
type Check struct {
	Name  string
	Query string
}

// Checks is the full rule set, in execution order. Every check writes
// one data_quality_log row per run, including clean passes, so absence
// of findings is distinguishable from absence of auditing.
var Checks = []Check{
	{
		Name: "orphaned_enrollment_students",
		Query: `SELECT enrollment_id FROM lms_curated.fact_enrollments f
			WHERE f.student_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_students d WHERE d.student_id = f.student_id)`,
	},
	{
		Name: "orphaned_enrollment_courses",
		Query: `SELECT enrollment_id FROM lms_curated.fact_enrollments f
			WHERE f.course_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_courses d WHERE d.course_id = f.course_id)`,
	},
	{
		Name: "orphaned_submission_students",
		Query: `SELECT submission_id FROM lms_curated.fact_submissions f
			WHERE f.student_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_students d WHERE d.student_id = f.student_id)`,
	},
	{
		Name: "orphaned_submission_assignments",
		Query: `SELECT submission_id FROM lms_curated.fact_submissions f
			WHERE f.assignment_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_assignments d WHERE d.assignment_id = f.assignment_id)`,
	},
	{
		Name: "orphaned_activity_students",
		Query: `SELECT activity_id FROM lms_curated.fact_activity_logs f
			WHERE f.student_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_students d WHERE d.student_id = f.student_id)`,
	},
	{
		Name: "orphaned_activity_courses",
		Query: `SELECT activity_id FROM lms_curated.fact_activity_logs f
			WHERE f.course_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM lms_curated.dim_courses d WHERE d.course_id = f.course_id)`,
	},
	{
		Name: "duplicate_student_ids",
		Query: `SELECT student_id FROM lms_curated.dim_students
			GROUP BY student_id HAVING count(*) > 1`,
	},
	{
		Name: "duplicate_course_ids",
		Query: `SELECT course_id FROM lms_curated.dim_courses
			GROUP BY course_id HAVING count(*) > 1`,
	},
	{
		Name: "duplicate_assignment_ids",
		Query: `SELECT assignment_id FROM lms_curated.dim_assignments
			GROUP BY assignment_id HAVING count(*) > 1`,
	},
	{
		Name: "out_of_range_gpa",
		Query: `SELECT student_id FROM lms_curated.dim_students
			WHERE gpa < 0 OR gpa > 4`,
	},
	{
		Name: "out_of_range_percentage",
		Query: `SELECT submission_id FROM lms_curated.fact_submissions
			WHERE percentage < 0 OR percentage > 100`,
	},
	{
		Name: "out_of_range_final_score",
		Query: `SELECT enrollment_id FROM lms_curated.fact_enrollments
			WHERE final_score < 0 OR final_score > 100`,
	},
	{
		Name: "negative_activity_duration",
		Query: `SELECT activity_id FROM lms_curated.fact_activity_logs
			WHERE duration_seconds < 0`,
	},
}

// Finding is the outcome of one check.
type Finding struct {
	Check      string   `json:"check"`
	IssueCount int      `json:"issue_count"`
	Samples    []string `json:"samples,omitempty"`
}

// Report summarizes one audit pass.
type Report struct {
	Findings    []Finding `json:"findings"`
	TotalIssues int       `json:"total_issues"`
}

// Auditor runs the check set and persists findings.
type Auditor struct {
	pool   db.Pool
	runLog *curate.RunLog
}

// NewAuditor creates an Auditor backed by the given pool.
func NewAuditor(pool db.Pool, runLog *curate.RunLog) *Auditor {
	return &Auditor{pool: pool, runLog: runLog}
}

// Run executes every check and appends one data_quality_log row each.
// A failing check aborts the pass: partial audits are recorded as failed
// runs rather than passing silently on the checks that never ran.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "audit"))

	runID, err := a.runLog.Start(ctx, "audit")
	if err != nil {
		return nil, eris.Wrap(err, "audit: start run log")
	}

	start := time.Now()
	report, err := a.runChecks(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if logErr := a.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record audit failure", zap.Error(logErr))
		}
		return nil, err
	}

	if err := a.runLog.Complete(ctx, runID, &curate.RunResult{
		RowsAffected: int64(report.TotalIssues),
		Metadata:     map[string]any{"checks": len(report.Findings)},
	}); err != nil {
		log.Error("failed to record audit completion", zap.Error(err))
	}

	log.Info("audit complete",
		zap.Int("checks", len(report.Findings)),
		zap.Int("total_issues", report.TotalIssues),
		zap.Duration("elapsed", elapsed),
	)
	return report, nil
}

func (a *Auditor) runChecks(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "audit"))
	report := &Report{}

	for _, check := range Checks {
		finding, err := a.runCheck(ctx, check)
		if err != nil {
			return nil, err
		}

		if finding.IssueCount > 0 {
			log.Warn("data quality issues found",
				zap.String("check", check.Name),
				zap.Int("issues", finding.IssueCount),
			)
		}

		report.Findings = append(report.Findings, *finding)
		report.TotalIssues += finding.IssueCount
	}

	return report, nil
}

func (a *Auditor) runCheck(ctx context.Context, check Check) (*Finding, error) {
	rows, err := a.pool.Query(ctx, check.Query)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: run check %s", check.Name)
	}
	defer rows.Close()

	finding := &Finding{Check: check.Name}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "audit: scan check %s", check.Name)
		}
		finding.IssueCount++
		if len(finding.Samples) < sampleLimit {
			finding.Samples = append(finding.Samples, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "audit: read check %s", check.Name)
	}

	var details []byte
	if len(finding.Samples) > 0 {
		details, err = json.Marshal(map[string]any{"samples": finding.Samples})
		if err != nil {
			return nil, eris.Wrapf(err, "audit: marshal details for %s", check.Name)
		}
	}

	if _, err := a.pool.Exec(ctx,
		`INSERT INTO lms_curated.data_quality_log (check_name, run_at, issue_count, details)
		 VALUES ($1, now(), $2, $3)`,
		check.Name, finding.IssueCount, details,
	); err != nil {
		return nil, eris.Wrapf(err, "audit: record finding for %s", check.Name)
	}

	return finding, nil
}
