package mdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// nextRevision draws the next sequence number of an index.
func (b *Backend) nextRevision(ctx context.Context, op, index string) (model.Revision, error) {
	var m metaRecord
	err := b.meta().FindOneAndUpdate(ctx,
		bson.M{"_id": index},
		bson.M{"$inc": bson.M{"seq_no": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"seq_no": 1}),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Revision{}, db.Errorf(db.KindNotFound, op, index, "", "no such index [%s]", index)
	}
	if err != nil {
		return model.Revision{}, wrapError(ctx, op, index, "", err)
	}
	return model.Revision{SeqNo: m.SeqNo, PrimaryTerm: primaryTerm}, nil
}

// current returns the stored record or nil when there is none.
func current(ctx context.Context, coll *mongo.Collection, op, index, id string) (*record, error) {
	var rec record
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(ctx, op, index, id, err)
	}
	return &rec, nil
}

func checkRevision(op, index, id string, ifMatch *model.Revision, rec *record) error {
	if ifMatch == nil {
		return nil
	}
	if rec == nil {
		return db.Errorf(db.KindVersionConflict, op, index, id,
			"required seqNo [%d], primary term [%d] but no document was found", ifMatch.SeqNo, ifMatch.PrimaryTerm)
	}
	if rec.revision() != *ifMatch {
		return db.Errorf(db.KindVersionConflict, op, index, id,
			"required seqNo [%d], primary term [%d]. current document has seqNo [%d] and primary term [%d]",
			ifMatch.SeqNo, ifMatch.PrimaryTerm, rec.SeqNo, rec.PrimaryTerm)
	}
	return nil
}

func revisionFilter(id string, rev model.Revision) bson.M {
	return bson.M{"_id": id, "seq_no": rev.SeqNo, "primary_term": rev.PrimaryTerm}
}

// store writes next over prev, guarded by prev's revision. It reports
// false when another writer got there first.
func (b *Backend) store(ctx context.Context, coll *mongo.Collection, op, index string, prev *record, next record) (bool, bool, error) {
	if prev == nil {
		res, err := coll.InsertOne(ctx, next)
		if mongo.IsDuplicateKeyError(err) {
			return false, false, nil
		}
		if err != nil {
			return false, false, wrapError(ctx, op, index, next.ID, err)
		}
		return true, res.Acknowledged, nil
	}

	res, err := coll.ReplaceOne(ctx, revisionFilter(prev.ID, prev.revision()), next)
	if err != nil {
		return false, false, wrapError(ctx, op, index, next.ID, err)
	}
	return res.MatchedCount == 1, res.Acknowledged, nil
}

func (b *Backend) IndexDocument(ctx context.Context, req db.IndexRequest) (*db.WriteResponse, error) {
	m, err := b.index(ctx, "index", req.Index)
	if err != nil {
		return nil, err
	}
	coll := b.database.Collection(m.Name)

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	source := model.CloneSource(req.Source)
	if source == nil {
		source = map[string]any{}
	}

	for {
		prev, err := current(ctx, coll, "index", m.Name, id)
		if err != nil {
			return nil, err
		}
		if req.OpType == db.OpCreate && prev != nil {
			return nil, db.Errorf(db.KindAlreadyExists, "index", m.Name, id, "document already exists")
		}
		if err = checkRevision("index", m.Name, id, req.IfMatch, prev); err != nil {
			return nil, err
		}

		rev, err := b.nextRevision(ctx, "index", m.Name)
		if err != nil {
			return nil, err
		}
		next := record{ID: id, Version: 1, SeqNo: rev.SeqNo, PrimaryTerm: rev.PrimaryTerm, Source: source}
		result := db.ResultCreated
		if prev != nil {
			next.Version = prev.Version + 1
			result = db.ResultUpdated
		}

		ok, acked, err := b.store(ctx, coll, "index", m.Name, prev, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return response(m.Name, next, result, acked), nil
		}
		if req.IfMatch != nil {
			return nil, db.Errorf(db.KindVersionConflict, "index", m.Name, id, "document changed during write")
		}
	}
}

func response(index string, rec record, result db.Result, acked bool) *db.WriteResponse {
	return &db.WriteResponse{
		Index:    index,
		ID:       rec.ID,
		Version:  rec.Version,
		Revision: rec.revision(),
		Result:   result,
		Shards:   shards(acked),
	}
}

func (b *Backend) GetDocument(ctx context.Context, index, id string) (*model.Document, error) {
	m, err := b.index(ctx, "get", index)
	if err != nil {
		return nil, err
	}
	rec, err := current(ctx, b.database.Collection(m.Name), "get", m.Name, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, db.Errorf(db.KindNotFound, "get", m.Name, id, "document not found")
	}
	doc := rec.document(m.Name)
	return &doc, nil
}

func (b *Backend) DeleteDocument(ctx context.Context, req db.DeleteRequest) (*db.WriteResponse, error) {
	m, err := b.index(ctx, "delete", req.Index)
	if err != nil {
		return nil, err
	}
	coll := b.database.Collection(m.Name)

	filter := bson.M{"_id": req.ID}
	if req.IfMatch != nil {
		filter = revisionFilter(req.ID, *req.IfMatch)
	}

	var prev record
	err = coll.FindOneAndDelete(ctx, filter).Decode(&prev)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments) && req.IfMatch != nil:
		stored, err := current(ctx, coll, "delete", m.Name, req.ID)
		if err != nil {
			return nil, err
		}
		return nil, checkRevision("delete", m.Name, req.ID, req.IfMatch, stored)
	case errors.Is(err, mongo.ErrNoDocuments):
		return &db.WriteResponse{Index: m.Name, ID: req.ID, Result: db.ResultNotFound, Shards: shards(true)}, nil
	case err != nil:
		return nil, wrapError(ctx, "delete", m.Name, req.ID, err)
	}

	rev, err := b.nextRevision(ctx, "delete", m.Name)
	if err != nil {
		return nil, err
	}
	tombstone := record{ID: req.ID, Version: prev.Version + 1, SeqNo: rev.SeqNo, PrimaryTerm: rev.PrimaryTerm}
	return response(m.Name, tombstone, db.ResultDeleted, true), nil
}

// ScriptUpdate runs the registered script against the stored source
// and writes the result back guarded by the revision it read.
func (b *Backend) ScriptUpdate(ctx context.Context, req db.ScriptRequest) (*db.WriteResponse, error) {
	m, err := b.index(ctx, "update", req.Index)
	if err != nil {
		return nil, err
	}
	coll := b.database.Collection(m.Name)

	for {
		prev, err := current(ctx, coll, "update", m.Name, req.ID)
		if err != nil {
			return nil, err
		}
		if prev == nil && req.IfMatch == nil {
			return nil, db.Errorf(db.KindNotFound, "update", m.Name, req.ID, "document missing")
		}
		if err = checkRevision("update", m.Name, req.ID, req.IfMatch, prev); err != nil {
			return nil, err
		}

		stored := prev.document(m.Name)
		source, op, err := b.scripts.Execute(m.Name, req.ID, req.Script, stored.Source)
		if err != nil {
			return nil, err
		}

		switch {
		case op == db.ScriptOpNone || (op == db.ScriptOpIndex && !model.SourceChanged(stored.Source, source)):
			return &db.WriteResponse{
				Index:    m.Name,
				ID:       req.ID,
				Version:  prev.Version,
				Revision: prev.revision(),
				Result:   db.ResultNoop,
			}, nil
		case op == db.ScriptOpDelete:
			res, err := coll.DeleteOne(ctx, revisionFilter(req.ID, prev.revision()))
			if err != nil {
				return nil, wrapError(ctx, "update", m.Name, req.ID, err)
			}
			if res.DeletedCount == 1 {
				rev, err := b.nextRevision(ctx, "update", m.Name)
				if err != nil {
					return nil, err
				}
				tombstone := record{ID: req.ID, Version: prev.Version + 1, SeqNo: rev.SeqNo, PrimaryTerm: rev.PrimaryTerm}
				return response(m.Name, tombstone, db.ResultDeleted, res.Acknowledged), nil
			}
		default:
			rev, err := b.nextRevision(ctx, "update", m.Name)
			if err != nil {
				return nil, err
			}
			next := record{ID: req.ID, Version: prev.Version + 1, SeqNo: rev.SeqNo, PrimaryTerm: rev.PrimaryTerm, Source: source}
			ok, acked, err := b.store(ctx, coll, "update", m.Name, prev, next)
			if err != nil {
				return nil, err
			}
			if ok {
				return response(m.Name, next, db.ResultUpdated, acked), nil
			}
		}

		if req.IfMatch != nil {
			return nil, db.Errorf(db.KindVersionConflict, "update", m.Name, req.ID, "document changed during update")
		}
	}
}
