package feed

import (
	"context"
	"strconv"
)

// DefaultBatchSize is the number of passages fetched per page.
const DefaultBatchSize = 10

// Source produces pages of passages for a book. An empty pageToken requests
// the first page; an empty returned token signals end-of-data.
type Source interface {
	NextPage(ctx context.Context, bookID, pageToken string) ([]*Passage, string, error)
}

// StaticSource serves pages from a fixed in-memory slice. Used as canned
// fallback content and in tests.
type StaticSource struct {
	passages  []*Passage
	batchSize int
}

// NewStaticSource creates a static source over the given passages.
// A batchSize <= 0 falls back to DefaultBatchSize.
func NewStaticSource(passages []*Passage, batchSize int) *StaticSource {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &StaticSource{
		passages:  passages,
		batchSize: batchSize,
	}
}

// NextPage returns the next batch of passages. When bookID is non-empty,
// only passages of that book are served.
func (s *StaticSource) NextPage(ctx context.Context, bookID, pageToken string) ([]*Passage, string, error) {
	matching := s.passages
	if bookID != "" {
		matching = make([]*Passage, 0, len(s.passages))
		for _, p := range s.passages {
			if p.BookID == bookID {
				matching = append(matching, p)
			}
		}
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, "", nil
		}
		offset = n
	}
	if offset >= len(matching) {
		return nil, "", nil
	}

	end := offset + s.batchSize
	if end > len(matching) {
		end = len(matching)
	}
	page := matching[offset:end]

	if end >= len(matching) {
		return page, "", nil
	}
	return page, strconv.Itoa(end), nil
}
