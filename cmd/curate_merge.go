package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/entity"
)

var curateMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge pending raw records",
	Long: `Merge pending raw records into the curated dimensional model.

Dimensions merge before facts so surrogate key resolution sees fresh rows.
Use --entities to restrict to specific entities, --limit to cap the number
of records claimed per entity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "curate.merge"))

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Ensure migrations are current.
		if err := curate.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "curate merge: migrate")
		}

		opts, err := parseMergeOpts(cmd)
		if err != nil {
			return err
		}

		resolver, closeCache := buildResolver(ctx, pool)
		defer closeCache()

		runLog := curate.NewRunLog(pool)
		reg := entity.NewRegistry()
		engine := entity.NewEngine(pool, runLog, reg, resolver, cfg.Curate.ClaimLimit)

		log.Info("starting merge",
			zap.Strings("entities", opts.Entities),
			zap.Int("limit", opts.ClaimLimit),
		)

		if err := engine.Run(ctx, opts); err != nil {
			return eris.Wrap(err, "curate merge")
		}

		fmt.Println("Merge complete")
		return nil
	},
}

func init() {
	curateMergeCmd.Flags().String("entities", "", "comma-separated entity names (e.g., students,submissions)")
	curateMergeCmd.Flags().Int("limit", 0, "max records claimed per entity (0 = all pending)")
	curateCmd.AddCommand(curateMergeCmd)
}

// parseMergeOpts extracts entity.RunOpts from the cobra command flags.
func parseMergeOpts(cmd *cobra.Command) (entity.RunOpts, error) {
	entitiesStr, _ := cmd.Flags().GetString("entities")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := entity.RunOpts{ClaimLimit: limit}

	if entitiesStr != "" {
		opts.Entities = strings.Split(entitiesStr, ",")
		for i := range opts.Entities {
			opts.Entities[i] = strings.TrimSpace(opts.Entities[i])
		}
	}

	return opts, nil
}
