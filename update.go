package docstore

import (
	"context"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// UpdateResult is returned by Update and Upsert. Attempts counts the
// resolve-apply-commit cycles the call ran, including the last one.
type UpdateResult struct {
	Index     string         `json:"index" yaml:"index"`
	ID        string         `json:"id" yaml:"id"`
	Version   int64          `json:"version" yaml:"version"`
	Revision  model.Revision `json:"revision" yaml:"revision"`
	Result    db.Result      `json:"result" yaml:"result"`
	Attempts  int            `json:"attempts" yaml:"attempts"`
	WasInsert bool           `json:"was_insert" yaml:"was_insert"`
	Outcome   Outcome        `json:"outcome" yaml:"outcome"`
}

// Updater applies partial updates with optimistic concurrency. Each
// attempt fetches the current document, applies the directive and
// commits guarded by the revision it read; a version conflict restarts
// the cycle from a fresh read.
type Updater struct {
	backend db.Backend
	acks    *AckTracker
	refresh db.RefreshPolicy
	retries int
}

type updateCall struct {
	op        string
	index     string
	id        string
	directive model.UpdateDirective
	insert    map[string]any
	upsert    bool
	refresh   db.RefreshPolicy
	cid       string
}

// Update applies directive to an existing document, retrying up to
// retryOnConflict times on version conflicts. A negative bound uses
// the client default. A missing document fails with NotFound.
func (u *Updater) Update(ctx context.Context, index, id string, directive model.UpdateDirective, retryOnConflict int, opts ...WriteOption) (UpdateResult, error) {
	call := &updateCall{
		op:        "update",
		index:     index,
		id:        id,
		directive: directive,
		refresh:   resolveWriteOptions(u.refresh, opts).refresh,
		cid:       correlationID(),
	}
	return u.run(ctx, call, retryOnConflict)
}

// Upsert writes insert verbatim when the document does not exist and
// applies directive to it when it does. The insert is a create-only
// write, so a concurrent creator makes it fall through to the update
// path instead of overwriting.
func (u *Updater) Upsert(ctx context.Context, index, id string, directive model.UpdateDirective, insert map[string]any, retryOnConflict int, opts ...WriteOption) (UpdateResult, error) {
	call := &updateCall{
		op:        "upsert",
		index:     index,
		id:        id,
		directive: directive,
		insert:    insert,
		upsert:    true,
		refresh:   resolveWriteOptions(u.refresh, opts).refresh,
		cid:       correlationID(),
	}
	if insert == nil {
		return UpdateResult{Index: index, ID: id}, u.acks.Failed(db.Errorf(db.KindInvalidRequest, "upsert", index, id, "upsert requires an insert document"))
	}
	return u.run(ctx, call, retryOnConflict)
}

func (u *Updater) run(ctx context.Context, call *updateCall, retryOnConflict int) (UpdateResult, error) {
	if call.id == "" {
		return UpdateResult{Index: call.index}, u.acks.Failed(db.Errorf(db.KindInvalidRequest, call.op, call.index, "", "update requires a document id"))
	}
	if call.directive == nil {
		return UpdateResult{Index: call.index, ID: call.id}, u.acks.Failed(db.Errorf(db.KindInvalidRequest, call.op, call.index, call.id, "update requires a directive"))
	}
	if err := call.directive.Validate(); err != nil {
		return UpdateResult{Index: call.index, ID: call.id}, u.acks.Failed(db.NewError(db.KindInvalidRequest, call.op, call.index, call.id, err))
	}
	if retryOnConflict < 0 {
		retryOnConflict = u.retries
	}

	maxAttempts := retryOnConflict + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return UpdateResult{Index: call.index, ID: call.id, Attempts: attempt - 1}, u.acks.Failed(errors.WithStack(err))
		}

		res, err := u.attempt(ctx, call)
		res.Attempts = attempt
		if err == nil {
			return u.commit(call, res)
		}

		if !db.IsVersionConflict(err) {
			return res, u.acks.Failed(err)
		}

		if attempt >= maxAttempts {
			grip.Debug(message.WrapError(err, message.Fields{
				"message":        "giving up after version conflicts",
				"op":             call.op,
				"index":          call.index,
				"id":             call.id,
				"attempts":       attempt,
				"correlation_id": call.cid,
			}))
			return res, u.acks.Failed(errors.Wrapf(err, "%s of '%s' in '%s' failed after %d attempts", call.op, call.id, call.index, attempt))
		}

		grip.Debug(message.Fields{
			"message":        "version conflict, retrying from a fresh read",
			"op":             call.op,
			"index":          call.index,
			"id":             call.id,
			"attempt":        attempt,
			"max_attempts":   maxAttempts,
			"correlation_id": call.cid,
		})
	}
}

// attempt runs one resolve-apply-commit cycle. Races with concurrent
// creators or deleters come back as version conflicts so that the
// caller's retry loop handles them.
func (u *Updater) attempt(ctx context.Context, call *updateCall) (UpdateResult, error) {
	base := UpdateResult{Index: call.index, ID: call.id}

	current, err := u.backend.GetDocument(ctx, call.index, call.id)
	switch {
	case err == nil:
	case db.ResultsNotFound(err) && !db.IndexNotFound(err):
		if !call.upsert {
			return base, errors.Wrapf(err, "%s of missing document", call.op)
		}
		return u.insert(ctx, call)
	default:
		return base, errors.Wrapf(err, "resolving document '%s' in '%s'", call.id, call.index)
	}

	var resp *db.WriteResponse
	switch directive := call.directive.(type) {
	case model.FieldMerge:
		resp, err = u.merge(ctx, call, current, directive)
	case *model.FieldMerge:
		resp, err = u.merge(ctx, call, current, *directive)
	case model.ScriptMutation:
		resp, err = u.script(ctx, call, current, directive)
	case *model.ScriptMutation:
		resp, err = u.script(ctx, call, current, *directive)
	default:
		return base, db.Errorf(db.KindInvalidRequest, call.op, call.index, call.id, "unsupported directive %T", call.directive)
	}
	if err != nil {
		return base, err
	}

	return responseResult(resp), nil
}

func (u *Updater) insert(ctx context.Context, call *updateCall) (UpdateResult, error) {
	resp, err := u.backend.IndexDocument(ctx, db.IndexRequest{
		Index:   call.index,
		ID:      call.id,
		Source:  call.insert,
		OpType:  db.OpCreate,
		Refresh: call.refresh,
	})
	if err != nil {
		if db.IsAlreadyExists(err) {
			// a concurrent writer created the document after our read
			return UpdateResult{Index: call.index, ID: call.id}, db.NewError(db.KindVersionConflict, call.op, call.index, call.id, err)
		}
		return UpdateResult{Index: call.index, ID: call.id}, errors.Wrap(err, "inserting upsert document")
	}

	res := responseResult(resp)
	res.WasInsert = true
	return res, nil
}

func (u *Updater) merge(ctx context.Context, call *updateCall, current *model.Document, directive model.FieldMerge) (*db.WriteResponse, error) {
	merged := MergeSource(current.Source, directive.Partial)
	if !model.SourceChanged(current.Source, merged) {
		return noopResponse(current), nil
	}

	if changes, err := model.DiffSources(current.Source, merged); err == nil {
		grip.Debug(message.Fields{
			"message":        "merged partial document",
			"op":             call.op,
			"index":          call.index,
			"id":             call.id,
			"base_version":   current.Version,
			"changed_paths":  model.ChangedPaths(changes),
			"correlation_id": call.cid,
		})
	}

	revision := current.Revision
	resp, err := u.backend.IndexDocument(ctx, db.IndexRequest{
		Index:   current.Index,
		ID:      current.ID,
		Source:  merged,
		OpType:  db.OpIndex,
		IfMatch: &revision,
		Refresh: call.refresh,
	})
	if err != nil {
		return nil, errors.Wrap(err, "committing merged document")
	}
	return resp, nil
}

func (u *Updater) script(ctx context.Context, call *updateCall, current *model.Document, directive model.ScriptMutation) (*db.WriteResponse, error) {
	revision := current.Revision
	resp, err := u.backend.ScriptUpdate(ctx, db.ScriptRequest{
		Index:   current.Index,
		ID:      current.ID,
		Script:  directive.Script,
		IfMatch: &revision,
		Refresh: call.refresh,
	})
	if err != nil {
		return nil, errors.Wrap(err, "running update script")
	}
	return resp, nil
}

func (u *Updater) commit(call *updateCall, res UpdateResult) (UpdateResult, error) {
	resp := &db.WriteResponse{Index: res.Index, ID: res.ID, Shards: res.Outcome.Shards}
	outcome, err := u.acks.Document(call.op, resp)
	res.Outcome = outcome
	if err != nil {
		return res, err
	}

	grip.Debug(message.Fields{
		"message":        "committed update",
		"op":             call.op,
		"index":          res.Index,
		"id":             res.ID,
		"version":        res.Version,
		"result":         res.Result,
		"attempts":       res.Attempts,
		"was_insert":     res.WasInsert,
		"ack":            outcome.State.String(),
		"correlation_id": call.cid,
	})
	return res, nil
}

func noopResponse(current *model.Document) *db.WriteResponse {
	return &db.WriteResponse{
		Index:    current.Index,
		ID:       current.ID,
		Version:  current.Version,
		Revision: current.Revision,
		Result:   db.ResultNoop,
	}
}

// responseResult copies a write response into a result. The shard
// report travels in the Outcome until commit interprets it.
func responseResult(resp *db.WriteResponse) UpdateResult {
	return UpdateResult{
		Index:    resp.Index,
		ID:       resp.ID,
		Version:  resp.Version,
		Revision: resp.Revision,
		Result:   resp.Result,
		Outcome:  Outcome{Shards: resp.Shards},
	}
}
