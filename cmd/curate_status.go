package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/entity"
)

var statusLimit int

var curateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long:  "Displays pending landing counts per entity and the recent run history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reg := entity.NewRegistry()
		counts, err := curate.RawStore{}.PendingCounts(ctx, pool, reg.RawTables())
		if err != nil {
			return eris.Wrap(err, "curate status: pending counts")
		}

		entries, err := curate.NewRunLog(pool).ListRecent(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "curate status: list runs")
		}

		formatPendingCounts(os.Stdout, counts)
		fmt.Println()
		if len(entries) == 0 {
			fmt.Println("No runs recorded, run 'curate run' to start the pipeline")
			return nil
		}
		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	curateStatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max run log entries to show")
	curateCmd.AddCommand(curateStatusCmd)
}

// formatPendingCounts writes the per-table pending backlog to w.
func formatPendingCounts(out io.Writer, counts map[string]int64) {
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LANDING TABLE\tPENDING")
	_, _ = fmt.Fprintln(w, "-------------\t-------")
	for _, table := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", table, counts[table])
	}
	_ = w.Flush()
}

// formatRunEntries writes a tabular representation of run log entries to w.
func formatRunEntries(out io.Writer, entries []curate.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPONENT\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			d := e.CompletedAt.Sub(e.StartedAt).Round(time.Second)
			dur = d.String()
		}

		errMsg := ""
		if e.Error != "" {
			errMsg = truncate(e.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			e.Component,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsAffected,
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
