package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore implements Store with in-memory maps.
// Used by tests and the developer simulator.
// Thread-safe for concurrent access.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]map[string]any),
	}
}

// AppendRecord inserts a new record.
// Returns ErrRecordExists if the id is already taken.
func (s *InMemoryStore) AppendRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(collection, id, fields)
}

// UpsertRecord creates the record or merges fields into an existing one.
func (s *InMemoryStore) UpsertRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(collection, id, fields)
	return nil
}

// GetRecord retrieves a record by id.
func (s *InMemoryStore) GetRecord(ctx context.Context, collection, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.collections[collection]
	if !ok {
		return nil, ErrRecordNotFound
	}
	fields, ok := records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &Record{ID: id, Fields: copyFields(fields)}, nil
}

// QueryLatest returns the matching record with the greatest orderByField value.
func (s *InMemoryStore) QueryLatest(ctx context.Context, collection string, filters map[string]any, orderByField string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bestID string
	var bestFields map[string]any

	for id, fields := range s.collections[collection] {
		if !matchesFilters(fields, filters) {
			continue
		}
		if bestFields == nil || fieldLess(bestFields[orderByField], fields[orderByField]) {
			bestID = id
			bestFields = fields
		}
	}
	if bestFields == nil {
		return nil, ErrRecordNotFound
	}
	return &Record{ID: bestID, Fields: copyFields(bestFields)}, nil
}

// ListRecords returns up to limit records in ascending id order, starting
// after afterID.
func (s *InMemoryStore) ListRecords(ctx context.Context, collection, afterID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Record{ID: id, Fields: copyFields(s.collections[collection][id])})
	}
	return out, nil
}

// CommitBatch applies all writes atomically. Writes are validated against
// the current state before any of them is applied.
func (s *InMemoryStore) CommitBatch(ctx context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate first so a failure leaves the store untouched. Appends and
	// updates within the same batch are checked against pre-batch state
	// plus earlier writes in the batch.
	pendingAppends := make(map[string]bool)
	for _, w := range writes {
		key := w.Collection + "/" + w.ID
		switch w.Op {
		case WriteAppend:
			if s.existsLocked(w.Collection, w.ID) || pendingAppends[key] {
				return fmt.Errorf("append %s/%s: %w", w.Collection, w.ID, ErrRecordExists)
			}
			pendingAppends[key] = true
		case WriteUpdate:
			if !s.existsLocked(w.Collection, w.ID) && !pendingAppends[key] {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, ErrRecordNotFound)
			}
		case WriteUpsert:
			// Always valid.
		default:
			return fmt.Errorf("unknown write op %q", w.Op)
		}
	}

	for _, w := range writes {
		switch w.Op {
		case WriteAppend:
			// Validated above; ignore the duplicate error path.
			_ = s.appendLocked(w.Collection, w.ID, w.Fields)
		case WriteUpsert, WriteUpdate:
			s.upsertLocked(w.Collection, w.ID, w.Fields)
		}
	}
	return nil
}

// Count returns the number of records in a collection. Test helper.
func (s *InMemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *InMemoryStore) existsLocked(collection, id string) bool {
	records, ok := s.collections[collection]
	if !ok {
		return false
	}
	_, ok = records[id]
	return ok
}

func (s *InMemoryStore) appendLocked(collection, id string, fields map[string]any) error {
	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]map[string]any)
		s.collections[collection] = records
	}
	if _, exists := records[id]; exists {
		return fmt.Errorf("append %s/%s: %w", collection, id, ErrRecordExists)
	}
	records[id] = copyFields(fields)
	return nil
}

func (s *InMemoryStore) upsertLocked(collection, id string, fields map[string]any) {
	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]map[string]any)
		s.collections[collection] = records
	}
	records[id] = mergeFields(records[id], copyFields(fields))
}

// copyFields shallow-copies a field map so callers cannot mutate stored state.
func copyFields(fields map[string]any) map[string]any {
	c := make(map[string]any, len(fields))
	for k, v := range fields {
		c[k] = v
	}
	return c
}

// matchesFilters reports whether all equality filters match the fields.
func matchesFilters(fields, filters map[string]any) bool {
	for k, want := range filters {
		if fields[k] != want {
			return false
		}
	}
	return true
}

// fieldLess orders two field values of the same dynamic type.
// Timestamps are stored as RFC3339 strings, so string comparison preserves
// chronological order.
func fieldLess(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case int:
		bv, ok := b.(int)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case nil:
		return b != nil
	default:
		return false
	}
}
