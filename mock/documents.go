package mock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
)

const primaryTerm = 1

// shards reports the write as reaching copies shard copies minus the
// injected failures. Callers hold the lock.
func (c *Cluster) shards(copies int) db.ShardStats {
	failed := c.ShardFailures
	if failed > copies {
		failed = copies
	}
	if failed < 0 {
		failed = 0
	}
	return db.ShardStats{Total: copies, Successful: copies - failed, Failed: failed}
}

func (idx *Index) copies() int { return 1 + idx.Handle.Settings.ReplicaCount }

func (idx *Index) nextRevision() model.Revision {
	idx.seqNo++
	return model.Revision{SeqNo: idx.seqNo, PrimaryTerm: primaryTerm}
}

func checkRevision(op, index, id string, ifMatch *model.Revision, current *model.Document) error {
	if ifMatch == nil {
		return nil
	}
	if current == nil {
		return db.Errorf(db.KindVersionConflict, op, index, id,
			"required seqNo [%d], primary term [%d] but no document was found", ifMatch.SeqNo, ifMatch.PrimaryTerm)
	}
	if current.Revision != *ifMatch {
		return db.Errorf(db.KindVersionConflict, op, index, id,
			"required seqNo [%d], primary term [%d]. current document has seqNo [%d] and primary term [%d]",
			ifMatch.SeqNo, ifMatch.PrimaryTerm, current.Revision.SeqNo, current.Revision.PrimaryTerm)
	}
	return nil
}

func (c *Cluster) IndexDocument(ctx context.Context, req db.IndexRequest) (*db.WriteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "index"); err != nil {
		return nil, err
	}
	idx, err := c.index("index", req.Index)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	current := idx.Docs[id]
	if req.OpType == db.OpCreate && current != nil {
		return nil, db.Errorf(db.KindAlreadyExists, "index", idx.Handle.Name, id, "document already exists")
	}
	if err = checkRevision("index", idx.Handle.Name, id, req.IfMatch, current); err != nil {
		return nil, err
	}

	doc := &model.Document{
		Index:    idx.Handle.Name,
		ID:       id,
		Version:  1,
		Revision: idx.nextRevision(),
		Source:   model.CloneSource(req.Source),
	}
	if doc.Source == nil {
		doc.Source = map[string]any{}
	}
	result := db.ResultCreated
	if current != nil {
		doc.Version = current.Version + 1
		result = db.ResultUpdated
	}
	idx.Docs[id] = doc

	return c.response(idx, doc, result), nil
}

func (c *Cluster) response(idx *Index, doc *model.Document, result db.Result) *db.WriteResponse {
	return &db.WriteResponse{
		Index:    doc.Index,
		ID:       doc.ID,
		Version:  doc.Version,
		Revision: doc.Revision,
		Result:   result,
		Shards:   c.shards(idx.copies()),
	}
}

func (c *Cluster) GetDocument(ctx context.Context, index, id string) (*model.Document, error) {
	doc, hook, err := c.getDocument(ctx, index, id)
	if hook != nil {
		hook(index, id)
	}
	return doc, err
}

func (c *Cluster) getDocument(ctx context.Context, index, id string) (*model.Document, func(string, string), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "get"); err != nil {
		return nil, nil, err
	}
	idx, err := c.index("get", index)
	if err != nil {
		return nil, nil, err
	}
	doc, ok := idx.Docs[id]
	if !ok {
		return nil, c.OnGet, db.Errorf(db.KindNotFound, "get", idx.Handle.Name, id, "document not found")
	}
	return doc.Clone(), c.OnGet, nil
}

func (c *Cluster) DeleteDocument(ctx context.Context, req db.DeleteRequest) (*db.WriteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "delete"); err != nil {
		return nil, err
	}
	idx, err := c.index("delete", req.Index)
	if err != nil {
		return nil, err
	}

	current := idx.Docs[req.ID]
	if err = checkRevision("delete", idx.Handle.Name, req.ID, req.IfMatch, current); err != nil {
		return nil, err
	}
	if current == nil {
		return &db.WriteResponse{
			Index:  idx.Handle.Name,
			ID:     req.ID,
			Result: db.ResultNotFound,
			Shards: c.shards(idx.copies()),
		}, nil
	}

	delete(idx.Docs, req.ID)
	tombstone := &model.Document{
		Index:    idx.Handle.Name,
		ID:       req.ID,
		Version:  current.Version + 1,
		Revision: idx.nextRevision(),
	}
	return c.response(idx, tombstone, db.ResultDeleted), nil
}

func (c *Cluster) ScriptUpdate(ctx context.Context, req db.ScriptRequest) (*db.WriteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "script"); err != nil {
		return nil, err
	}
	idx, err := c.index("script", req.Index)
	if err != nil {
		return nil, err
	}

	current := idx.Docs[req.ID]
	if current == nil && req.IfMatch == nil {
		return nil, db.Errorf(db.KindNotFound, "script", idx.Handle.Name, req.ID, "document missing")
	}
	if err = checkRevision("script", idx.Handle.Name, req.ID, req.IfMatch, current); err != nil {
		return nil, err
	}

	source, op, err := c.Scripts.Execute(idx.Handle.Name, req.ID, req.Script, current.Source)
	if err != nil {
		return nil, err
	}

	switch {
	case op == db.ScriptOpDelete:
		delete(idx.Docs, req.ID)
		tombstone := &model.Document{
			Index:    idx.Handle.Name,
			ID:       req.ID,
			Version:  current.Version + 1,
			Revision: idx.nextRevision(),
		}
		return c.response(idx, tombstone, db.ResultDeleted), nil
	case op == db.ScriptOpNone || !model.SourceChanged(current.Source, source):
		return &db.WriteResponse{
			Index:    idx.Handle.Name,
			ID:       req.ID,
			Version:  current.Version,
			Revision: current.Revision,
			Result:   db.ResultNoop,
			Shards:   db.ShardStats{},
		}, nil
	}

	doc := &model.Document{
		Index:    idx.Handle.Name,
		ID:       req.ID,
		Version:  current.Version + 1,
		Revision: idx.nextRevision(),
		Source:   source,
	}
	idx.Docs[req.ID] = doc
	return c.response(idx, doc, db.ResultUpdated), nil
}

// scanSnapshot captures the matching documents of every target index.
func (c *Cluster) scanSnapshot(ctx context.Context, req db.ScanRequest) ([]model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "scan"); err != nil {
		return nil, err
	}
	targets, err := c.resolve("scan", req.Indices)
	if err != nil {
		return nil, err
	}

	var out []model.Document
	for _, name := range targets {
		idx := c.Indices[name]
		for _, id := range sortedIDs(idx.Docs) {
			doc := idx.Docs[id]
			ok, err := Matches(req.Query, doc)
			if err != nil {
				return nil, db.NewError(db.KindInvalidRequest, "scan", name, "", err)
			}
			if ok {
				out = append(out, *doc.Clone())
			}
		}
	}
	return out, nil
}

func (c *Cluster) OpenScan(ctx context.Context, req db.ScanRequest) (db.Cursor, error) {
	if req.BatchSize <= 0 {
		return nil, db.Errorf(db.KindInvalidRequest, "scan", "", "", "batch size must be positive, got %d", req.BatchSize)
	}
	docs, err := c.scanSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	return &cursor{cluster: c, docs: docs, size: req.BatchSize, keepAlive: req.KeepAlive, touched: time.Now()}, nil
}

// cursor pages through a snapshot. Like a scroll context it expires
// when not advanced within its keep-alive.
type cursor struct {
	cluster   *Cluster
	docs      []model.Document
	pos       int
	size      int
	keepAlive time.Duration
	touched   time.Time
	closed    bool
}

func (cur *cursor) Total() int { return len(cur.docs) }

func (cur *cursor) Next(ctx context.Context) ([]model.Document, error) {
	cur.cluster.mu.Lock()
	err := cur.cluster.begin(ctx, "scroll")
	cur.cluster.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if cur.closed {
		return nil, db.Errorf(db.KindInvalidRequest, "scroll", "", "", "scroll is closed")
	}
	if cur.keepAlive > 0 && time.Since(cur.touched) > cur.keepAlive {
		return nil, db.Errorf(db.KindNotFound, "scroll", "", "", "scroll context expired")
	}
	cur.touched = time.Now()

	if cur.pos >= len(cur.docs) {
		return nil, nil
	}
	end := cur.pos + cur.size
	if end > len(cur.docs) {
		end = len(cur.docs)
	}
	batch := make([]model.Document, 0, end-cur.pos)
	for _, doc := range cur.docs[cur.pos:end] {
		batch = append(batch, *doc.Clone())
	}
	cur.pos = end
	return batch, nil
}

func (cur *cursor) Close(_ context.Context) error {
	cur.closed = true
	return nil
}
