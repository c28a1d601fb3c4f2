// Package resolve translates natural keys into dimension surrogate keys.
// Resolution is left-outer: a key with no matching dimension row resolves
// to nil rather than an error, so facts can land before their dimensions.
package resolve

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/db"
)

// Dimension identifies a lookup target: which table, which surrogate key
// column, and which natural key column to match on.
type Dimension struct {
	Name          string
	Table         string
	KeyColumn     string
	NaturalColumn string
}

var (
	Students    = Dimension{Name: "students", Table: "lms_curated.dim_students", KeyColumn: "student_key", NaturalColumn: "student_id"}
	Courses     = Dimension{Name: "courses", Table: "lms_curated.dim_courses", KeyColumn: "course_key", NaturalColumn: "course_id"}
	Assignments = Dimension{Name: "assignments", Table: "lms_curated.dim_assignments", KeyColumn: "assignment_key", NaturalColumn: "assignment_id"}
)

// Resolver memoizes surrogate key lookups for the duration of a run.
// Misses are memoized too: an unresolvable key stays unresolvable until
// Invalidate is called after the next dimension merge.
type Resolver struct {
	q     db.Queryer
	cache Cache

	mu   sync.Mutex
	memo map[string]*int64
}

// New creates a Resolver backed by q. cache may be nil to disable the
// shared read-through layer.
func New(q db.Queryer, cache Cache) *Resolver {
	return &Resolver{
		q:     q,
		cache: cache,
		memo:  make(map[string]*int64),
	}
}

// Lookup returns the surrogate key for naturalKey in dim, or nil when the
// dimension row does not exist yet. An empty natural key resolves to nil
// without touching the database.
func (r *Resolver) Lookup(ctx context.Context, dim Dimension, naturalKey string) (*int64, error) {
	if naturalKey == "" {
		return nil, nil
	}

	memoKey := dim.Name + "\x00" + naturalKey

	r.mu.Lock()
	if key, ok := r.memo[memoKey]; ok {
		r.mu.Unlock()
		return key, nil
	}
	r.mu.Unlock()

	if r.cache != nil {
		if val, ok, err := r.cache.Get(ctx, cacheKey(dim, naturalKey)); err != nil {
			zap.L().Warn("resolve: cache read failed", zap.String("dimension", dim.Name), zap.Error(err))
		} else if ok {
			r.remember(memoKey, &val)
			return &val, nil
		}
	}

	var key int64
	err := r.q.QueryRow(ctx,
		`SELECT `+dim.KeyColumn+` FROM `+dim.Table+` WHERE `+dim.NaturalColumn+` = $1`,
		naturalKey,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.remember(memoKey, nil)
			return nil, nil
		}
		return nil, eris.Wrapf(err, "resolve: lookup %s %q", dim.Name, naturalKey)
	}

	r.remember(memoKey, &key)

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey(dim, naturalKey), key); err != nil {
			zap.L().Warn("resolve: cache write failed", zap.String("dimension", dim.Name), zap.Error(err))
		}
	}

	return &key, nil
}

// Invalidate drops memoized lookups (hits and misses) for the given
// dimensions. Call it after merging new dimension rows so previously
// unresolvable facts can resolve on the next pass.
func (r *Resolver) Invalidate(ctx context.Context, dims ...Dimension) {
	r.mu.Lock()
	for memoKey := range r.memo {
		for _, dim := range dims {
			if len(memoKey) > len(dim.Name) && memoKey[:len(dim.Name)+1] == dim.Name+"\x00" {
				delete(r.memo, memoKey)
				break
			}
		}
	}
	r.mu.Unlock()

	if r.cache == nil {
		return
	}
	for _, dim := range dims {
		if err := r.cache.DeletePrefix(ctx, cachePrefix(dim)); err != nil {
			zap.L().Warn("resolve: cache invalidation failed", zap.String("dimension", dim.Name), zap.Error(err))
		}
	}
}

func (r *Resolver) remember(memoKey string, key *int64) {
	r.mu.Lock()
	r.memo[memoKey] = key
	r.mu.Unlock()
}

func cachePrefix(dim Dimension) string {
	return "curate:xref:" + dim.Name + ":"
}

func cacheKey(dim Dimension, naturalKey string) string {
	return cachePrefix(dim) + naturalKey
}
