package esdb

import (
	"context"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
)

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

func (r searchResponse) documents() []model.Document {
	out := make([]model.Document, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		out = append(out, h.document())
	}
	return out
}

// OpenScan runs the initial scroll search. The first page is held
// until the first call to Next.
func (b *Backend) OpenScan(ctx context.Context, req db.ScanRequest) (db.Cursor, error) {
	index := joinNames(req.Indices)
	if req.BatchSize <= 0 {
		return nil, db.Errorf(db.KindInvalidRequest, "search", index, "", "batch size must be positive, got %d", req.BatchSize)
	}
	query := req.Query
	if query == nil {
		query = model.MatchAll()
	}
	body, err := encode(map[string]any{
		"query": map[string]any(query),
		"sort":  []string{"_doc"},
	})
	if err != nil {
		return nil, err
	}

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(req.Indices...),
		b.client.Search.WithBody(body),
		b.client.Search.WithSize(req.BatchSize),
		b.client.Search.WithScroll(req.KeepAlive),
		b.client.Search.WithSeqNoPrimaryTerm(true),
		b.client.Search.WithVersion(true),
		b.client.Search.WithTrackTotalHits(true),
	)
	var out searchResponse
	if err = b.decode(ctx, "search", index, "", res, err, &out); err != nil {
		return nil, err
	}

	return &scrollCursor{
		backend:   b,
		index:     index,
		scrollID:  out.ScrollID,
		keepAlive: req.KeepAlive,
		total:     out.Hits.Total.Value,
		pending:   out.documents(),
	}, nil
}

type scrollCursor struct {
	backend   *Backend
	index     string
	scrollID  string
	keepAlive time.Duration
	total     int
	pending   []model.Document
	started   bool
	exhausted bool
}

func (c *scrollCursor) Total() int { return c.total }

func (c *scrollCursor) Next(ctx context.Context) ([]model.Document, error) {
	if !c.started {
		c.started = true
		if len(c.pending) == 0 {
			c.exhausted = true
		}
		batch := c.pending
		c.pending = nil
		return batch, nil
	}
	if c.exhausted || c.scrollID == "" {
		return nil, nil
	}

	client := c.backend.client
	res, err := client.Scroll(
		client.Scroll.WithContext(ctx),
		client.Scroll.WithScrollID(c.scrollID),
		client.Scroll.WithScroll(c.keepAlive),
	)
	var out searchResponse
	if err = c.backend.decode(ctx, "scroll", c.index, "", res, err, &out); err != nil {
		return nil, err
	}
	if out.ScrollID != "" {
		c.scrollID = out.ScrollID
	}
	if len(out.Hits.Hits) == 0 {
		c.exhausted = true
	}
	return out.documents(), nil
}

// Close releases the scroll context on the cluster. A context that
// already expired is not an error.
func (c *scrollCursor) Close(ctx context.Context) error {
	if c.scrollID == "" {
		return nil
	}
	client := c.backend.client
	res, err := client.ClearScroll(
		client.ClearScroll.WithContext(ctx),
		client.ClearScroll.WithScrollID(c.scrollID),
	)
	c.scrollID = ""
	if err = c.backend.decode(ctx, "clear_scroll", c.index, "", res, err, nil); err != nil && !db.ResultsNotFound(err) {
		return err
	}
	return nil
}
