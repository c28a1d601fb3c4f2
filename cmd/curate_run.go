package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/aggregate"
	"github.com/campus-analytics/curate-cli/internal/curate/audit"
	"github.com/campus-analytics/curate-cli/internal/curate/entity"
)

var curateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full curation pipeline",
	Long: `Runs merge, aggregate, and audit in sequence. This is the normal
scheduled entry point: land raw extracts with 'ingest', then 'curate run'
brings the curated model, aggregates, and quality log up to date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "curate.run"))

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := curate.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "curate run: migrate")
		}

		resolver, closeCache := buildResolver(ctx, pool)
		defer closeCache()

		runLog := curate.NewRunLog(pool)
		reg := entity.NewRegistry()

		log.Info("pipeline starting")

		engine := entity.NewEngine(pool, runLog, reg, resolver, cfg.Curate.ClaimLimit)
		if err := engine.Run(ctx, entity.RunOpts{}); err != nil {
			return eris.Wrap(err, "curate run: merge")
		}

		result, err := aggregate.NewRecomputer(pool, runLog).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "curate run: aggregate")
		}

		report, err := audit.NewAuditor(pool, runLog).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "curate run: audit")
		}

		log.Info("pipeline complete",
			zap.Int("performance_rows", result.PerformanceRows),
			zap.Int("analytics_rows", result.AnalyticsRows),
			zap.Int("at_risk_students", len(result.AtRiskStudents)),
			zap.Int("quality_issues", report.TotalIssues),
		)

		fmt.Printf("Pipeline complete: %d performance rows, %d course rows, %d quality issues\n",
			result.PerformanceRows, result.AnalyticsRows, report.TotalIssues)
		if report.TotalIssues > 0 {
			formatAuditReport(os.Stdout, report)
		}
		return nil
	},
}

func init() {
	curateCmd.AddCommand(curateRunCmd)
}
