// Package entity implements the merge step of the curation pipeline:
// claiming pending raw records, converting them into curated rows, and
// upserting them into the dimensional model.
package entity

import (
	"context"

	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

// Stage groups entities by merge order. Dimensions land before the
// facts that reference them so surrogate resolution sees fresh rows;
// entities within a stage are independent and merge concurrently.
type Stage int

const (
	StageDimensions Stage = iota + 1 // students, courses
	StageCatalog                     // assignments (reference courses by natural key)
	StageFacts                       // enrollments, submissions, activity
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageDimensions:
		return "dimensions"
	case StageCatalog:
		return "catalog"
	case StageFacts:
		return "facts"
	default:
		return "unknown"
	}
}

// MergeResult holds the outcome of a single entity merge.
type MergeResult struct {
	Claimed  int   `json:"claimed"`
	Upserted int64 `json:"upserted"`
	Errored  int   `json:"errored"`
	Deduped  int   `json:"deduped"`
}

// Entity defines one curated table fed from a raw landing buffer.
// Convert turns a single raw payload into an upsert row; the first
// element of the returned row must be the entity's natural key.
type Entity interface {
	// Name returns the unique identifier for this entity (e.g. "students").
	Name() string

	// RawTable returns the landing table name within lms_raw.
	RawTable() string

	// Stage returns which merge stage this entity belongs to.
	Stage() Stage

	// Dimension returns the lookup this entity's merge refreshes. The
	// engine invalidates it after new rows land so previously
	// unresolvable facts can resolve. Facts return false.
	Dimension() (resolve.Dimension, bool)

	// Convert parses one raw payload into an upsert row. A non-nil error
	// marks the record ERROR without failing the batch.
	Convert(ctx context.Context, data []byte, r *resolve.Resolver) ([]any, error)

	// Upsert returns the bulk upsert configuration for the target table.
	Upsert() db.UpsertConfig
}

// parsePayloadKeyed decodes a payload and extracts its natural key in one
// step; every Convert implementation starts here.
func parsePayloadKeyed(data []byte, keyField string) (payload, string, error) {
	p, err := parsePayload(data)
	if err != nil {
		return nil, "", err
	}
	key, err := p.requireStr(keyField)
	if err != nil {
		return nil, "", err
	}
	return p, key, nil
}
