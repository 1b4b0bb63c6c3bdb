package db

import (
	"context"

	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
)

// Cursor is a resumable scan. Next returns the following batch; an
// empty batch means the scan is exhausted. Total is the number of hits
// the backend reported when the scan was opened.
type Cursor interface {
	Next(context.Context) ([]model.Document, error)
	Total() int
	Close(context.Context) error
}

// NewCombinedCursor chains cursors so that a scan over several
// indices reads them one after the other. Close closes all of them.
func NewCombinedCursor(cursors ...Cursor) Cursor {
	return &combinedCursor{cursors: cursors}
}

type combinedCursor struct {
	cursors []Cursor
	current int
}

func (c *combinedCursor) Total() int {
	total := 0
	for _, cur := range c.cursors {
		total += cur.Total()
	}
	return total
}

func (c *combinedCursor) Next(ctx context.Context) ([]model.Document, error) {
	for c.current < len(c.cursors) {
		batch, err := c.cursors[c.current].Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
		c.current++
	}
	return nil, nil
}

func (c *combinedCursor) Close(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()
	for _, cur := range c.cursors {
		catcher.Add(cur.Close(ctx))
	}
	return catcher.Resolve()
}
