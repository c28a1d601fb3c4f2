package aggregate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/db"
)

var performanceColumns = []string{
	"student_id", "course_id", "term", "total_assignments", "completed_assignments",
	"avg_score", "total_points_earned", "total_points_possible", "late_submissions",
	"missing_submissions", "total_activity_minutes", "last_activity_date",
	"current_grade", "calculated_at",
}

var analyticsColumns = []string{
	"course_id", "term", "total_enrolled", "active_students", "avg_class_score",
	"median_class_score", "grade_distribution", "completion_rate",
	"avg_engagement_minutes", "at_risk_students", "calculated_at",
}

// Recomputer refreshes the aggregate tables from the curated model.
type Recomputer struct {
	pool   db.Pool
	runLog *curate.RunLog
}

// NewRecomputer creates a Recomputer backed by the given pool.
func NewRecomputer(pool db.Pool, runLog *curate.RunLog) *Recomputer {
	return &Recomputer{pool: pool, runLog: runLog}
}

// Result summarizes one aggregation pass.
type Result struct {
	PerformanceRows int
	AnalyticsRows   int
	AtRiskStudents  []string
}

// Run recomputes both aggregate tables in one transaction: load a
// consistent snapshot, compute in memory, truncate, repopulate. Readers
// never observe a half-refreshed table.
func (r *Recomputer) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "aggregate.recomputer"))

	runID, err := r.runLog.Start(ctx, "aggregate")
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: start run log")
	}

	start := time.Now()
	result, err := r.refresh(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if logErr := r.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record aggregation failure", zap.Error(logErr))
		}
		return nil, err
	}

	if err := r.runLog.Complete(ctx, runID, &curate.RunResult{
		RowsAffected: int64(result.PerformanceRows + result.AnalyticsRows),
		Metadata: map[string]any{
			"performance_rows": result.PerformanceRows,
			"analytics_rows":   result.AnalyticsRows,
			"at_risk_students": len(result.AtRiskStudents),
		},
	}); err != nil {
		log.Error("failed to record aggregation completion", zap.Error(err))
	}

	log.Info("aggregation complete",
		zap.Int("performance_rows", result.PerformanceRows),
		zap.Int("analytics_rows", result.AnalyticsRows),
		zap.Int("at_risk_students", len(result.AtRiskStudents)),
		zap.Duration("elapsed", elapsed),
	)
	if len(result.AtRiskStudents) > 0 {
		log.Warn("at-risk students flagged",
			zap.Int("count", len(result.AtRiskStudents)),
			zap.Strings("student_ids", result.AtRiskStudents),
		)
	}
	return result, nil
}

func (r *Recomputer) refresh(ctx context.Context) (*Result, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: begin tx")
	}
	defer tx.Rollback(ctx)

	// All reads and the swap see one consistent snapshot.
	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return nil, eris.Wrap(err, "aggregate: set isolation level")
	}

	snap, err := LoadSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	perf := ComputePerformance(snap)
	analytics := ComputeAnalytics(snap)

	if _, err := tx.Exec(ctx, "TRUNCATE TABLE lms_curated.agg_student_course_performance"); err != nil {
		return nil, eris.Wrap(err, "aggregate: truncate performance")
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE lms_curated.agg_course_analytics"); err != nil {
		return nil, eris.Wrap(err, "aggregate: truncate analytics")
	}

	perfRows := make([][]any, 0, len(perf))
	for _, row := range perf {
		perfRows = append(perfRows, []any{
			row.StudentID, row.CourseID, row.Term, row.TotalAssignments,
			row.CompletedAssignments, row.AvgScore, row.TotalPointsEarned,
			row.TotalPointsPossible, row.LateSubmissions, row.MissingSubmissions,
			row.TotalActivityMinutes, row.LastActivityDate, row.CurrentGrade, now,
		})
	}
	if _, err := db.CopyFromSchema(ctx, tx, "lms_curated", "agg_student_course_performance", performanceColumns, perfRows); err != nil {
		return nil, err
	}

	analyticsRows := make([][]any, 0, len(analytics))
	for _, row := range analytics {
		dist, err := json.Marshal(row.GradeDistribution)
		if err != nil {
			return nil, eris.Wrap(err, "aggregate: marshal grade distribution")
		}
		analyticsRows = append(analyticsRows, []any{
			row.CourseID, row.Term, row.TotalEnrolled, row.ActiveStudents,
			row.AvgClassScore, row.MedianClassScore, dist, row.CompletionRate,
			row.AvgEngagementMinutes, row.AtRiskStudents, now,
		})
	}
	if _, err := db.CopyFromSchema(ctx, tx, "lms_curated", "agg_course_analytics", analyticsColumns, analyticsRows); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "aggregate: commit")
	}

	return &Result{
		PerformanceRows: len(perf),
		AnalyticsRows:   len(analytics),
		AtRiskStudents:  AtRiskStudents(perf),
	}, nil
}
