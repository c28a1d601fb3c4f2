package entity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// mergeConcurrency caps how many entities merge at once within a stage.
const mergeConcurrency = 3

// Engine orchestrates entity merge runs. Stages run in order so
// dimensions are committed before the facts that resolve against them;
// entities within a stage merge concurrently.
type Engine struct {
	pool       db.Pool
	raws       curate.RawStore
	runLog     *curate.RunLog
	reg        *Registry
	resolver   *resolve.Resolver
	claimLimit int
}

// RunOpts configures which entities to merge and how.
type RunOpts struct {
	Entities   []string // restrict to specific entity names
	ClaimLimit int      // max records claimed per entity, 0 = all
}

// NewEngine creates a new merge engine.
func NewEngine(pool db.Pool, runLog *curate.RunLog, reg *Registry, resolver *resolve.Resolver, claimLimit int) *Engine {
	return &Engine{
		pool:       pool,
		runLog:     runLog,
		reg:        reg,
		resolver:   resolver,
		claimLimit: claimLimit,
	}
}

// Run merges all selected entities stage by stage. A failed entity does
// not abort the run; its raw records revert to PENDING, the failure is
// recorded in the run log, and sibling entities still merge. The error
// returned after all stages finish reports how many entities failed.
func (e *Engine) Run(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "entity.engine"))

	selected, err := e.reg.Select(opts.Entities)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		log.Info("no entities selected")
		return nil
	}

	limit := e.claimLimit
	if opts.ClaimLimit > 0 {
		limit = opts.ClaimLimit
	}

	var merged, failed int

	for _, stage := range []Stage{StageDimensions, StageCatalog, StageFacts} {
		entities := ByStage(selected, stage)
		if len(entities) == 0 {
			continue
		}

		results := make([]*MergeResult, len(entities))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(mergeConcurrency)

		for i, ent := range entities {
			i, ent := i, ent
			g.Go(func() error {
				res, err := e.mergeOne(gctx, ent, limit)
				if err != nil {
					// Isolate per-entity failures: the stage continues.
					log.Error("merge failed",
						zap.String("entity", ent.Name()),
						zap.Error(err),
					)
					return nil
				}
				results[i] = res
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		var invalidate []resolve.Dimension
		for i, ent := range entities {
			if results[i] == nil {
				failed++
				continue
			}
			merged++
			if results[i].Upserted > 0 {
				if dim, ok := ent.Dimension(); ok {
					invalidate = append(invalidate, dim)
				}
			}
		}

		// Fresh dimension rows make previously unresolvable keys resolvable.
		if len(invalidate) > 0 {
			e.resolver.Invalidate(ctx, invalidate...)
		}
	}

	log.Info("merge run complete", zap.Int("merged", merged), zap.Int("failed", failed))

	if failed > 0 {
		return eris.Errorf("engine: %d of %d entity merges failed", failed, merged+failed)
	}
	return nil
}

// mergeOne claims, converts, and upserts one entity's pending records in
// a single transaction. Records that fail conversion are marked ERROR
// inside the same transaction; a batch-level failure rolls everything
// back, reverting claims to PENDING.
func (e *Engine) mergeOne(ctx context.Context, ent Entity, limit int) (*MergeResult, error) {
	log := zap.L().With(
		zap.String("component", "entity.engine"),
		zap.String("entity", ent.Name()),
	)

	runID, err := e.runLog.Start(ctx, "merge."+ent.Name())
	if err != nil {
		return nil, eris.Wrapf(err, "engine: start run log for %s", ent.Name())
	}

	start := time.Now()
	result, err := e.mergeTx(ctx, ent, limit)
	elapsed := time.Since(start)

	if err != nil {
		if logErr := e.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record merge failure", zap.Error(logErr))
		}
		return nil, err
	}

	if err := e.runLog.Complete(ctx, runID, &curate.RunResult{
		RowsAffected: result.Upserted,
		Metadata: map[string]any{
			"claimed": result.Claimed,
			"errored": result.Errored,
			"deduped": result.Deduped,
		},
	}); err != nil {
		log.Error("failed to record merge completion", zap.Error(err))
	}

	log.Info("merge complete",
		zap.Int("claimed", result.Claimed),
		zap.Int64("upserted", result.Upserted),
		zap.Int("errored", result.Errored),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (e *Engine) mergeTx(ctx context.Context, ent Entity, limit int) (*MergeResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: begin tx for %s", ent.Name())
	}
	defer tx.Rollback(ctx)

	records, err := e.raws.ClaimPending(ctx, tx, ent.RawTable(), limit)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{Claimed: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	// Dedupe by natural key, last record wins. Claimed records arrive
	// oldest first, so the newest version of a key survives.
	byKey := make(map[string]int)
	var rows [][]any
	var processed []string
	for _, rec := range records {
		row, err := ent.Convert(ctx, rec.Payload, e.resolver)
		if err != nil {
			if markErr := e.raws.MarkError(ctx, tx, ent.RawTable(), rec.RawID, err.Error()); markErr != nil {
				return nil, markErr
			}
			result.Errored++
			continue
		}

		key, ok := row[0].(string)
		if !ok || key == "" {
			if markErr := e.raws.MarkError(ctx, tx, ent.RawTable(), rec.RawID, "empty natural key"); markErr != nil {
				return nil, markErr
			}
			result.Errored++
			continue
		}

		if idx, seen := byKey[key]; seen {
			rows[idx] = row
			result.Deduped++
		} else {
			byKey[key] = len(rows)
			rows = append(rows, row)
		}
		processed = append(processed, rec.RawID)
	}

	if len(rows) > 0 {
		n, err := db.Upsert(ctx, tx, ent.Upsert(), rows)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: upsert %s", ent.Name())
		}
		result.Upserted = n
	}

	if err := e.raws.MarkProcessed(ctx, tx, ent.RawTable(), processed); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "engine: commit %s", ent.Name())
	}
	return result, nil
}
