// Package store defines the remote persistence contract for the engagement
// pipeline and provides in-memory and PostgreSQL implementations.
//
// The contract models a remote document store: records are identified by
// (collection, id) and hold a flat-or-nested field map. The pipeline only
// ever appends, upserts, patches and queries records through this interface;
// durability and timeout behavior belong to the concrete backend.
package store

import (
	"context"
	"errors"
)

// Collection names used by the engagement pipeline.
const (
	// CollectionEvents holds appended engagement events.
	CollectionEvents = "user_engagement"
	// CollectionSessions holds upserted session records.
	CollectionSessions = "user_sessions"
	// CollectionProfiles holds per-user behavior profiles.
	CollectionProfiles = "user_behavior_profiles"
	// CollectionAggregates holds per-passage engagement aggregates.
	CollectionAggregates = "engagement_aggregates"
	// CollectionPassages holds the content items the feed serves.
	CollectionPassages = "passages"
)

// Store errors.
var (
	// ErrRecordNotFound is returned when a record does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrRecordExists is returned when appending a record whose id is taken.
	ErrRecordExists = errors.New("record already exists")
)

// Record is a stored document: an id plus its field map.
type Record struct {
	ID     string
	Fields map[string]any
}

// WriteOp identifies the kind of write inside a batch.
type WriteOp string

const (
	// WriteAppend inserts a new record; fails if the id exists.
	WriteAppend WriteOp = "append"
	// WriteUpsert creates the record or merges fields into an existing one.
	WriteUpsert WriteOp = "upsert"
	// WriteUpdate merges fields into an existing record; fails if missing.
	WriteUpdate WriteOp = "update"
)

// Write is a single operation within an atomic batch.
type Write struct {
	Op         WriteOp
	Collection string
	ID         string
	Fields     map[string]any
}

// Store is the persistence contract consumed by the engagement pipeline.
// Implementations must be safe for concurrent use.
type Store interface {
	// AppendRecord inserts a new record with the given id.
	AppendRecord(ctx context.Context, collection, id string, fields map[string]any) error

	// UpsertRecord creates the record or merges the given fields into an
	// existing one (update if exists, else create).
	UpsertRecord(ctx context.Context, collection, id string, fields map[string]any) error

	// GetRecord retrieves a record by id.
	// Returns ErrRecordNotFound if it does not exist.
	GetRecord(ctx context.Context, collection, id string) (*Record, error)

	// QueryLatest returns the single record matching all equality filters
	// with the greatest value of orderByField, or ErrRecordNotFound when
	// nothing matches.
	QueryLatest(ctx context.Context, collection string, filters map[string]any, orderByField string) (*Record, error)

	// ListRecords returns up to limit records from a collection in
	// ascending id order, starting after afterID. An empty afterID starts
	// from the beginning. An empty result means the collection is
	// exhausted.
	ListRecords(ctx context.Context, collection, afterID string, limit int) ([]*Record, error)

	// CommitBatch applies all writes atomically: either every write takes
	// effect or none do.
	CommitBatch(ctx context.Context, writes []Write) error
}

// mergeFields returns dst with the fields of src merged in, overwriting on
// key collision. dst may be nil.
func mergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
