package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okline/readpulse/internal/store"
)

// StoreSource pages passages out of the persistence adapter's passages
// collection. The page token is the id of the last raw record scanned, so
// pagination survives book filtering.
type StoreSource struct {
	store     store.Store
	batchSize int
}

// NewStoreSource creates a store-backed source.
// A batchSize <= 0 falls back to DefaultBatchSize.
func NewStoreSource(st store.Store, batchSize int) *StoreSource {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &StoreSource{
		store:     st,
		batchSize: batchSize,
	}
}

// NextPage returns the next batch of passages. Records that fail to decode
// or belong to another book are skipped without consuming batch capacity.
func (s *StoreSource) NextPage(ctx context.Context, bookID, pageToken string) ([]*Passage, string, error) {
	var page []*Passage
	cursor := pageToken

	for len(page) < s.batchSize {
		records, err := s.store.ListRecords(ctx, store.CollectionPassages, cursor, s.batchSize)
		if err != nil {
			return nil, "", fmt.Errorf("listing passages: %w", err)
		}
		if len(records) == 0 {
			return page, "", nil
		}
		for _, rec := range records {
			cursor = rec.ID
			p, err := decodePassage(rec.ID, rec.Fields)
			if err != nil {
				continue
			}
			if bookID != "" && p.BookID != bookID {
				continue
			}
			page = append(page, p)
			if len(page) == s.batchSize {
				break
			}
		}
		if len(records) < s.batchSize {
			// The scan hit the end of the collection.
			return page, "", nil
		}
	}
	return page, cursor, nil
}

func decodePassage(id string, fields map[string]any) (*Passage, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding passage fields: %w", err)
	}
	var p Passage
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding passage %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// EncodePassage converts a passage into the field map the store persists.
// Seeding and backfill tooling use it to write the passages collection.
func EncodePassage(p *Passage) (map[string]any, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding passage: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decoding passage fields: %w", err)
	}
	return fields, nil
}
