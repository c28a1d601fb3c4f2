package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Curation pipeline",
	Long:  "Merges landed raw records into lms_curated.* dimensions and facts, refreshes aggregates, and audits data quality.",
}

func init() {
	rootCmd.AddCommand(curateCmd)
}

// curatePool creates the pgxpool.Pool for the curation subsystem.
func curatePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Curate.DatabaseURL
	if dsn == "" {
		return nil, eris.New("curate: no database_url configured (set curate.database_url or CURATE_CURATE_DATABASE_URL)")
	}

	pool, err := db.NewPool(ctx, dsn, &cfg.Curate.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "curate: create connection pool")
	}

	fmt.Println("Connected to database")
	return pool, nil
}

// buildResolver creates the surrogate key resolver, attaching the shared
// Redis lookup cache when one is configured. Cache setup failures degrade
// to database-only resolution instead of failing the run.
func buildResolver(ctx context.Context, pool db.Pool) (*resolve.Resolver, func()) {
	if cfg.Curate.RedisURL == "" {
		return resolve.New(pool, nil), func() {}
	}

	cache, err := resolve.NewRedisCache(ctx, cfg.Curate.RedisURL)
	if err != nil {
		zap.L().Warn("curate: redis cache unavailable, resolving from database only", zap.Error(err))
		return resolve.New(pool, nil), func() {}
	}

	return resolve.New(pool, cache), func() { _ = cache.Close() }
}
