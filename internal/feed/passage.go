// Package feed is the content-source collaborator: passage content plus the
// paged fetch contract the reading UI consumes. The telemetry pipeline only
// reads passage ids, book ids and text from it.
package feed

import "time"

// Engagement holds the live engagement counters carried on a passage.
type Engagement struct {
	Views           int           `json:"views"`
	AverageReadTime time.Duration `json:"average_read_time"`
	TotalReadTime   time.Duration `json:"total_read_time"`
}

// Passage is one short-form content item in the feed.
type Passage struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	BookTitle  string     `json:"book_title"`
	Author     string     `json:"author"`
	Text       string     `json:"text"`
	Tags       []string   `json:"tags"`
	Category   string     `json:"category"`
	Length     string     `json:"length"`  // "short", "medium" or "long"
	Density    string     `json:"density"` // "dense" or "airy"
	CreatedAt  time.Time  `json:"created_at"`
	Likes      int        `json:"likes"`
	Engagement Engagement `json:"engagement"`
}
