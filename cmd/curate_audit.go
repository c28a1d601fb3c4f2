package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/audit"
)

var curateAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run data quality checks",
	Long: `Runs the data quality check set against the curated model:
orphaned fact relations, duplicate natural keys, and out-of-range values.
Every check appends a row to lms_curated.data_quality_log, clean or not.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		a := audit.NewAuditor(pool, curate.NewRunLog(pool))
		report, err := a.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "curate audit")
		}

		formatAuditReport(os.Stdout, report)
		return nil
	},
}

func init() {
	curateCmd.AddCommand(curateAuditCmd)
}

// formatAuditReport writes a tabular representation of audit findings to w.
func formatAuditReport(out io.Writer, report *audit.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tISSUES\tSAMPLES")
	_, _ = fmt.Fprintln(w, "-----\t------\t-------")

	for _, f := range report.Findings {
		samples := ""
		if len(f.Samples) > 0 {
			samples = truncate(strings.Join(f.Samples, ", "), 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", f.Check, f.IssueCount, samples)
	}
	_ = w.Flush()

	if report.TotalIssues == 0 {
		_, _ = fmt.Fprintln(out, "\nNo data quality issues found")
	} else {
		_, _ = fmt.Fprintf(out, "\n%d data quality issues found\n", report.TotalIssues)
	}
}
