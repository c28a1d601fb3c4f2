package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/aggregate"
)

var curateAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute reporting aggregates",
	Long: `Recomputes agg_student_course_performance and agg_course_analytics
from the curated dimensions and facts. The refresh is a full truncate and
repopulate inside a single transaction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rec := aggregate.NewRecomputer(pool, curate.NewRunLog(pool))
		result, err := rec.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "curate aggregate")
		}

		fmt.Printf("Aggregation complete: %d performance rows, %d course rows\n",
			result.PerformanceRows, result.AnalyticsRows)
		if len(result.AtRiskStudents) > 0 {
			fmt.Printf("At-risk students (%d): %s\n",
				len(result.AtRiskStudents), strings.Join(result.AtRiskStudents, ", "))
		}
		return nil
	},
}

func init() {
	curateCmd.AddCommand(curateAggregateCmd)
}
