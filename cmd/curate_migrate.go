package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-analytics/curate-cli/internal/curate"
)

var curateMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migrations",
	Long:  "Creates or updates the lms_raw and lms_curated schemas and tables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := curate.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "curate migrate")
		}

		fmt.Println("Migrations complete")
		return nil
	},
}

func init() {
	curateCmd.AddCommand(curateMigrateCmd)
}
