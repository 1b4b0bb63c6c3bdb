package docstore

import (
	"context"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

type idMode int

const (
	idServerGenerated idMode = iota
	idClientSupplied
	idCreateOnly
)

// IDPolicy decides who picks a new document's id and what happens when
// the id is taken.
type IDPolicy struct {
	mode idMode
	id   string
}

// ServerGenerated lets the backend assign the id.
func ServerGenerated() IDPolicy { return IDPolicy{mode: idServerGenerated} }

// ClientSupplied writes under id, replacing any existing document
// wholesale.
func ClientSupplied(id string) IDPolicy { return IDPolicy{mode: idClientSupplied, id: id} }

// CreateOnly writes under id only if no document has it.
func CreateOnly(id string) IDPolicy { return IDPolicy{mode: idCreateOnly, id: id} }

func (p IDPolicy) request(doc *model.Document, refresh db.RefreshPolicy) (db.IndexRequest, error) {
	req := db.IndexRequest{Index: doc.Index, Source: doc.Source, OpType: db.OpIndex, Refresh: refresh}
	switch p.mode {
	case idServerGenerated:
		req.OpType = db.OpCreate
	case idClientSupplied:
		req.ID = p.id
	case idCreateOnly:
		req.ID = p.id
		req.OpType = db.OpCreate
	}
	if p.mode != idServerGenerated && p.id == "" {
		return req, db.Errorf(db.KindInvalidRequest, "index", doc.Index, "", "client supplied id must not be empty")
	}
	return req, nil
}

// WriteResult is returned by Put.
type WriteResult struct {
	Index    string         `json:"index" yaml:"index"`
	ID       string         `json:"id" yaml:"id"`
	Version  int64          `json:"version" yaml:"version"`
	Revision model.Revision `json:"revision" yaml:"revision"`
	Result   db.Result      `json:"result" yaml:"result"`
	Outcome  Outcome        `json:"outcome" yaml:"outcome"`
}

// DeleteResult is returned by Delete. Found is false when there was
// nothing to delete, which is not an error.
type DeleteResult struct {
	Version int64   `json:"version" yaml:"version"`
	Found   bool    `json:"found" yaml:"found"`
	Outcome Outcome `json:"outcome" yaml:"outcome"`
}

// Store performs single document CRUD.
type Store struct {
	backend db.Backend
	acks    *AckTracker
	refresh db.RefreshPolicy
}

// Put writes a whole document. On success the document's ID, Version
// and Revision are updated in place.
func (s *Store) Put(ctx context.Context, doc *model.Document, policy IDPolicy, opts ...WriteOption) (WriteResult, error) {
	if doc == nil {
		return WriteResult{}, s.acks.Failed(db.Errorf(db.KindInvalidRequest, "index", "", "", "document must not be nil"))
	}
	if doc.Index == "" {
		return WriteResult{}, s.acks.Failed(db.Errorf(db.KindInvalidRequest, "index", "", policy.id, "document has no index"))
	}

	wo := resolveWriteOptions(s.refresh, opts)
	req, err := policy.request(doc, wo.refresh)
	if err != nil {
		return WriteResult{}, s.acks.Failed(err)
	}

	resp, err := s.backend.IndexDocument(ctx, req)
	if err != nil {
		return WriteResult{Index: doc.Index, ID: req.ID}, s.acks.Failed(errors.Wrapf(err, "writing document '%s' to '%s'", req.ID, doc.Index))
	}

	out := WriteResult{
		Index:    resp.Index,
		ID:       resp.ID,
		Version:  resp.Version,
		Revision: resp.Revision,
		Result:   resp.Result,
	}

	// the backend applied the write even when the ack below is an error
	doc.ID = resp.ID
	doc.Version = resp.Version
	doc.Revision = resp.Revision

	out.Outcome, err = s.acks.Document("index", resp)
	if err != nil {
		return out, err
	}

	grip.Debug(message.Fields{
		"message": "indexed document",
		"op":      "index",
		"index":   out.Index,
		"id":      out.ID,
		"version": out.Version,
		"result":  out.Result,
	})
	return out, nil
}

// Get fetches a document. A missing document is a NotFound error.
func (s *Store) Get(ctx context.Context, index, id string) (*model.Document, error) {
	doc, err := s.backend.GetDocument(ctx, index, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting document '%s' from '%s'", id, index)
	}
	return doc, nil
}

// Exists reports if the document is stored.
func (s *Store) Exists(ctx context.Context, index, id string) (bool, error) {
	_, err := s.backend.GetDocument(ctx, index, id)
	switch {
	case err == nil:
		return true, nil
	case db.ResultsNotFound(err) && !db.IndexNotFound(err):
		return false, nil
	default:
		return false, errors.Wrapf(err, "checking document '%s' in '%s'", id, index)
	}
}

// Delete removes a document. Deleting an absent document succeeds with
// Found set to false.
func (s *Store) Delete(ctx context.Context, index, id string, opts ...WriteOption) (DeleteResult, error) {
	wo := resolveWriteOptions(s.refresh, opts)
	resp, err := s.backend.DeleteDocument(ctx, db.DeleteRequest{Index: index, ID: id, Refresh: wo.refresh})
	if err != nil {
		return DeleteResult{}, s.acks.Failed(errors.Wrapf(err, "deleting document '%s' from '%s'", id, index))
	}

	out := DeleteResult{Version: resp.Version, Found: resp.Result == db.ResultDeleted}
	out.Outcome, err = s.acks.Document("delete", resp)
	return out, err
}
