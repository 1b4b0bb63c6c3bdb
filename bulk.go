package docstore

import (
	"context"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

// BulkRequest selects the documents of a bulk mutation.
type BulkRequest struct {
	Query   model.Query `json:"query" yaml:"query"`
	Indices []string    `json:"indices" yaml:"indices"`
	// BatchSize bounds each scan batch; zero uses the client default.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// MaxDocs caps how many matching documents are processed. Zero
	// processes all of them.
	MaxDocs   int                  `json:"max_docs" yaml:"max_docs"`
	Conflicts model.ConflictPolicy `json:"conflicts" yaml:"conflicts"`
	// ScrollKeepAlive is how long the scan snapshot stays open
	// between batches; zero uses the client default.
	ScrollKeepAlive time.Duration `json:"scroll_keep_alive" yaml:"scroll_keep_alive"`
	// Refresh refreshes the target indices once the job is complete.
	Refresh bool `json:"refresh" yaml:"refresh"`
}

// Validate checks the request without contacting the backend.
func (r BulkRequest) Validate() error {
	switch {
	case r.BatchSize < 0:
		return errors.Errorf("batch size must not be negative, got %d", r.BatchSize)
	case r.MaxDocs < 0:
		return errors.Errorf("max docs must not be negative, got %d", r.MaxDocs)
	}
	switch r.Conflicts {
	case "", model.ConflictsProceed, model.ConflictsAbort:
	default:
		return errors.Errorf("unknown conflict policy '%s'", r.Conflicts)
	}
	for _, name := range r.Indices {
		if name == "" {
			return errors.New("target index names must not be empty")
		}
	}
	return nil
}

// BulkMutator runs delete- and update-by-query jobs.
type BulkMutator struct {
	backend   db.Backend
	acks      *AckTracker
	batchSize int
	keepAlive time.Duration
}

// NewDeleteScanner returns a scanner that deletes every matching
// document, one batch per call to Next.
func (b *BulkMutator) NewDeleteScanner(req BulkRequest) (*Scanner, error) {
	return b.newScanner("delete_by_query", req, b.deleteDocument)
}

// NewUpdateScanner returns a scanner that applies directive to every
// matching document. Each document is updated once, guarded by the
// revision the scan saw; conflicts are recorded, not retried.
func (b *BulkMutator) NewUpdateScanner(req BulkRequest, directive model.UpdateDirective) (*Scanner, error) {
	if directive == nil {
		return nil, db.Errorf(db.KindInvalidRequest, "update_by_query", "", "", "update by query requires a directive")
	}
	if err := directive.Validate(); err != nil {
		return nil, db.NewError(db.KindInvalidRequest, "update_by_query", "", "", err)
	}
	return b.newScanner("update_by_query", req, func(ctx context.Context, doc model.Document) (*db.WriteResponse, error) {
		return b.updateDocument(ctx, doc, directive)
	})
}

// DeleteByQuery deletes every document matching the request and
// returns the finished job. Matching nothing is a success with zero
// counts. The job is returned along with any fatal error so the
// progress made before it is never lost.
func (b *BulkMutator) DeleteByQuery(ctx context.Context, req BulkRequest) (*model.BulkMutationJob, error) {
	scanner, err := b.NewDeleteScanner(req)
	if err != nil {
		return nil, err
	}
	return scanner.Run(ctx)
}

// UpdateByQuery applies directive to every document matching the
// request.
func (b *BulkMutator) UpdateByQuery(ctx context.Context, req BulkRequest, directive model.UpdateDirective) (*model.BulkMutationJob, error) {
	scanner, err := b.NewUpdateScanner(req, directive)
	if err != nil {
		return nil, err
	}
	return scanner.Run(ctx)
}

func (b *BulkMutator) newScanner(op string, req BulkRequest, mutate mutation) (*Scanner, error) {
	if err := req.Validate(); err != nil {
		return nil, db.NewError(db.KindInvalidRequest, op, "", "", err)
	}
	if req.BatchSize == 0 {
		req.BatchSize = b.batchSize
	}
	if req.ScrollKeepAlive == 0 {
		req.ScrollKeepAlive = b.keepAlive
	}
	if req.Conflicts == "" {
		req.Conflicts = model.ConflictsProceed
	}
	if req.Query == nil {
		req.Query = model.MatchAll()
	}

	return newScanner(op, b.backend, b.acks, req, mutate), nil
}

func (b *BulkMutator) deleteDocument(ctx context.Context, doc model.Document) (*db.WriteResponse, error) {
	revision := doc.Revision
	return b.backend.DeleteDocument(ctx, db.DeleteRequest{
		Index:   doc.Index,
		ID:      doc.ID,
		IfMatch: &revision,
	})
}

func (b *BulkMutator) updateDocument(ctx context.Context, doc model.Document, directive model.UpdateDirective) (*db.WriteResponse, error) {
	revision := doc.Revision

	switch d := directive.(type) {
	case model.FieldMerge:
		return b.mergeDocument(ctx, doc, d)
	case *model.FieldMerge:
		return b.mergeDocument(ctx, doc, *d)
	case model.ScriptMutation:
		return b.backend.ScriptUpdate(ctx, db.ScriptRequest{Index: doc.Index, ID: doc.ID, Script: d.Script, IfMatch: &revision})
	case *model.ScriptMutation:
		return b.backend.ScriptUpdate(ctx, db.ScriptRequest{Index: doc.Index, ID: doc.ID, Script: d.Script, IfMatch: &revision})
	default:
		return nil, db.Errorf(db.KindInvalidRequest, "update_by_query", doc.Index, doc.ID, "unsupported directive %T", directive)
	}
}

func (b *BulkMutator) mergeDocument(ctx context.Context, doc model.Document, directive model.FieldMerge) (*db.WriteResponse, error) {
	merged := MergeSource(doc.Source, directive.Partial)
	if !model.SourceChanged(doc.Source, merged) {
		return noopResponse(&doc), nil
	}

	revision := doc.Revision
	return b.backend.IndexDocument(ctx, db.IndexRequest{
		Index:   doc.Index,
		ID:      doc.ID,
		Source:  merged,
		OpType:  db.OpIndex,
		IfMatch: &revision,
	})
}
