package feed

import (
	"context"
	"log/slog"
	"sync"
)

// Client is the paged passage fetcher the reading UI drives. It reads from a
// primary source and falls back to canned static content when the primary
// errors or yields nothing on a fresh read. Switching books resets pagination.
type Client struct {
	primary  Source
	fallback Source
	logger   *slog.Logger

	mu            sync.Mutex
	bookID        string
	pageToken     string
	exhausted     bool
	usingFallback bool
}

// NewClient creates a feed client over the primary source.
// The fallback source may be nil, in which case primary failures surface
// as errors instead of degrading to canned content.
func NewClient(primary, fallback Source, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Next fetches the next page of passages. Returns an empty page once the
// source is exhausted.
func (c *Client) Next(ctx context.Context) ([]*Passage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted {
		return nil, nil
	}

	fresh := c.pageToken == ""
	src := c.primary
	if c.usingFallback {
		src = c.fallback
	}

	page, next, err := src.NextPage(ctx, c.bookID, c.pageToken)
	if !c.usingFallback && c.fallback != nil {
		if err != nil {
			c.logger.Warn("primary source failed, switching to fallback content",
				slog.String("book_id", c.bookID),
				slog.String("error", err.Error()))
			c.usingFallback = true
			c.pageToken = ""
			page, next, err = c.fallback.NextPage(ctx, c.bookID, "")
		} else if len(page) == 0 && fresh {
			c.logger.Warn("primary source empty, switching to fallback content",
				slog.String("book_id", c.bookID))
			c.usingFallback = true
			page, next, err = c.fallback.NextPage(ctx, c.bookID, "")
		}
	}
	if err != nil {
		return nil, err
	}

	c.pageToken = next
	if next == "" {
		c.exhausted = true
	}
	return page, nil
}

// HasMore reports whether another Next call can yield passages.
func (c *Client) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exhausted
}

// UsingFallback reports whether the client has degraded to canned content.
func (c *Client) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usingFallback
}

// Reset restarts pagination from the first page.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Retry switches back to the primary source and restarts pagination.
func (c *Client) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usingFallback = false
	c.resetLocked()
}

// SetBook selects the book passages are read from. Switching to a different
// book resets pagination; re-selecting the current book does not.
func (c *Client) SetBook(bookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bookID == bookID {
		return
	}
	c.bookID = bookID
	c.resetLocked()
}

// BookID returns the currently selected book id.
func (c *Client) BookID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bookID
}

func (c *Client) resetLocked() {
	c.pageToken = ""
	c.exhausted = false
}
