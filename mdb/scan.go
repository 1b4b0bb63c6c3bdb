package mdb

import (
	"context"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// OpenScan opens one cursor per target index and reads them in order.
// Server cursors time out on their own schedule, so the keep-alive is
// not forwarded.
func (b *Backend) OpenScan(ctx context.Context, req db.ScanRequest) (db.Cursor, error) {
	if req.BatchSize <= 0 {
		return nil, db.Errorf(db.KindInvalidRequest, "search", "", "", "batch size must be positive, got %d", req.BatchSize)
	}
	filter, err := Filter(req.Query)
	if err != nil {
		return nil, db.NewError(db.KindInvalidRequest, "search", "", "", err)
	}
	targets, err := b.resolve(ctx, "search", req.Indices)
	if err != nil {
		return nil, err
	}

	cursors := make([]db.Cursor, 0, len(targets))
	for _, m := range targets {
		cur, err := b.openCursor(ctx, m.Name, filter, req.BatchSize)
		if err != nil {
			grip.Warning(message.WrapError(db.NewCombinedCursor(cursors...).Close(context.WithoutCancel(ctx)), message.Fields{
				"message": "closing partially opened scan",
				"index":   m.Name,
			}))
			return nil, err
		}
		cursors = append(cursors, cur)
	}
	return db.NewCombinedCursor(cursors...), nil
}

func (b *Backend) openCursor(ctx context.Context, index string, filter bson.M, size int) (*batchCursor, error) {
	coll := b.database.Collection(index)
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, wrapError(ctx, "search", index, "", err)
	}
	cursor, err := coll.Find(ctx, filter, options.Find().
		SetBatchSize(int32(size)).
		SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapError(ctx, "search", index, "", err)
	}
	return &batchCursor{cursor: cursor, index: index, size: size, total: int(total)}, nil
}

type batchCursor struct {
	cursor *mongo.Cursor
	index  string
	size   int
	total  int
}

func (c *batchCursor) Total() int { return c.total }

func (c *batchCursor) Next(ctx context.Context) ([]model.Document, error) {
	out := make([]model.Document, 0, c.size)
	for len(out) < c.size && c.cursor.Next(ctx) {
		var rec record
		if err := c.cursor.Decode(&rec); err != nil {
			return nil, wrapError(ctx, "scroll", c.index, "", err)
		}
		out = append(out, rec.document(c.index))
	}
	if err := c.cursor.Err(); err != nil {
		return nil, wrapError(ctx, "scroll", c.index, "", err)
	}
	return out, nil
}

func (c *batchCursor) Close(ctx context.Context) error {
	return wrapError(ctx, "clear_scroll", c.index, "", c.cursor.Close(ctx))
}
