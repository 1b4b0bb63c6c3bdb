package docstore

import (
	"context"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

type mutation func(context.Context, model.Document) (*db.WriteResponse, error)

// Scanner is a resumable bulk mutation. Each call to Next processes
// one scan batch and updates the job's progress; it returns false once
// the scan is exhausted, the context is canceled or a fatal error
// occurred. Writes already issued are never rolled back.
//
//	for scanner.Next(ctx) {
//		log(scanner.Job().Progress)
//	}
//	err := scanner.Close(ctx)
type Scanner struct {
	op      string
	backend db.Backend
	acks    *AckTracker
	req     BulkRequest
	mutate  mutation

	job    *model.BulkMutationJob
	cursor db.Cursor
	err    error
	done   bool
}

func newScanner(op string, backend db.Backend, acks *AckTracker, req BulkRequest, mutate mutation) *Scanner {
	return &Scanner{
		op:      op,
		backend: backend,
		acks:    acks,
		req:     req,
		mutate:  mutate,
		job: &model.BulkMutationJob{
			ID:            correlationID(),
			Query:         req.Query,
			TargetIndices: req.Indices,
			BatchSize:     req.BatchSize,
			Progress:      model.Progress{Failures: []model.Failure{}},
		},
	}
}

// Job returns the job state. It is owned by the scanner until Next
// returns false.
func (s *Scanner) Job() *model.BulkMutationJob { return s.job }

// Err returns the fatal error that stopped the scan, if any. A
// canceled scan reports the context's error.
func (s *Scanner) Err() error { return s.err }

// Next processes the next batch.
func (s *Scanner) Next(ctx context.Context) bool {
	if s.done {
		return false
	}

	if err := ctx.Err(); err != nil {
		s.cancel(ctx, err)
		return false
	}

	if s.cursor == nil {
		s.job.StartedAt = time.Now()
		cursor, err := s.backend.OpenScan(ctx, db.ScanRequest{
			Indices:   s.req.Indices,
			Query:     s.req.Query,
			BatchSize: s.req.BatchSize,
			KeepAlive: s.req.ScrollKeepAlive,
		})
		if err != nil {
			s.fail(ctx, errors.Wrap(err, "opening scan"))
			return false
		}
		s.cursor = cursor
		s.job.Progress.Matched = cursor.Total()

		grip.Info(message.Fields{
			"message":    "started bulk mutation",
			"op":         s.op,
			"job":        s.job.ID,
			"indices":    s.req.Indices,
			"matched":    s.job.Progress.Matched,
			"batch_size": s.req.BatchSize,
			"max_docs":   s.req.MaxDocs,
			"conflicts":  s.req.Conflicts,
		})
	}

	remaining := -1
	if s.req.MaxDocs > 0 {
		remaining = s.req.MaxDocs - s.job.Progress.Scanned
		if remaining <= 0 {
			s.complete(ctx)
			return false
		}
	}

	batch, err := s.cursor.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.cancel(ctx, ctx.Err())
			return false
		}
		s.fail(ctx, errors.Wrap(err, "fetching scan batch"))
		return false
	}
	if len(batch) == 0 {
		s.complete(ctx)
		return false
	}
	if remaining > 0 && len(batch) > remaining {
		batch = batch[:remaining]
	}

	s.job.Progress.Batches++
	for _, doc := range batch {
		if !s.apply(ctx, doc) {
			return false
		}
	}

	grip.Debug(message.Fields{
		"message":   "processed bulk batch",
		"op":        s.op,
		"job":       s.job.ID,
		"batch":     s.job.Progress.Batches,
		"size":      len(batch),
		"scanned":   s.job.Progress.Scanned,
		"mutated":   s.job.Progress.Mutated(),
		"conflicts": s.job.Progress.VersionConflicts,
	})
	return true
}

// apply mutates one document and records the result. It returns
// false when the scan must stop.
func (s *Scanner) apply(ctx context.Context, doc model.Document) bool {
	progress := &s.job.Progress
	progress.Scanned++

	resp, err := s.mutate(ctx, doc)
	if err == nil && resp != nil && resp.Result == db.ResultNotFound {
		err = db.Errorf(db.KindVersionConflict, s.op, doc.Index, doc.ID, "document was deleted after it was scanned")
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.cancel(ctx, ctx.Err())
			return false
		case db.IsUnavailable(err), db.IndexNotFound(err):
			s.fail(ctx, errors.Wrapf(err, "mutating document '%s' in '%s'", doc.ID, doc.Index))
			return false
		case db.IsVersionConflict(err):
			progress.VersionConflicts++
			progress.Failures = append(progress.Failures, newFailure(doc, err))
			s.acks.Failed(err)
			if s.req.Conflicts == model.ConflictsAbort {
				s.fail(ctx, errors.Wrap(err, "aborting on version conflict"))
				return false
			}
		default:
			progress.Failures = append(progress.Failures, newFailure(doc, err))
			s.acks.Failed(err)
		}
		return true
	}

	outcome, err := s.acks.Document(s.op, resp)
	if err != nil {
		if db.IsUnavailable(err) {
			s.fail(ctx, err)
			return false
		}
		progress.Failures = append(progress.Failures, newFailure(doc, err))
	}
	if outcome.Partial() {
		progress.PartialAcknowledged++
	}

	switch resp.Result {
	case db.ResultDeleted:
		progress.Deleted++
	case db.ResultNoop:
		progress.Noops++
	case db.ResultUpdated, db.ResultCreated:
		progress.Updated++
	}
	return true
}

func newFailure(doc model.Document, err error) model.Failure {
	kind := db.KindOf(err)
	return model.Failure{
		Index:    doc.Index,
		ID:       doc.ID,
		Kind:     kind.String(),
		Conflict: kind == db.KindVersionConflict,
		Cause:    err,
	}
}

func (s *Scanner) complete(ctx context.Context) {
	s.job.Completed = true
	s.finish(ctx)

	if s.req.Refresh && s.job.Progress.Mutated() > 0 {
		if _, err := s.backend.Refresh(ctx, s.req.Indices...); err != nil {
			s.err = errors.Wrap(err, "refreshing after bulk mutation")
		}
	}

	grip.Info(message.Fields{
		"message":   "completed bulk mutation",
		"op":        s.op,
		"job":       s.job.ID,
		"progress":  s.job.Progress,
		"took_secs": s.job.Took().Seconds(),
	})
}

func (s *Scanner) cancel(ctx context.Context, err error) {
	s.job.Canceled = true
	s.err = errors.Wrap(err, "bulk mutation canceled")
	s.finish(ctx)

	grip.Info(message.WrapError(err, message.Fields{
		"message":  "canceled bulk mutation",
		"op":       s.op,
		"job":      s.job.ID,
		"progress": s.job.Progress,
	}))
}

func (s *Scanner) fail(ctx context.Context, err error) {
	s.err = err
	s.finish(ctx)

	grip.Error(message.WrapError(err, message.Fields{
		"message":  "bulk mutation failed",
		"op":       s.op,
		"job":      s.job.ID,
		"progress": s.job.Progress,
	}))
}

func (s *Scanner) finish(ctx context.Context) {
	s.done = true
	s.job.FinishedAt = time.Now()
	if s.job.StartedAt.IsZero() {
		s.job.StartedAt = s.job.FinishedAt
	}
	s.closeCursor(ctx)
}

func (s *Scanner) closeCursor(ctx context.Context) {
	if s.cursor == nil {
		return
	}
	// the scan context must be released even when ctx is done
	grip.Warning(message.WrapError(s.cursor.Close(context.WithoutCancel(ctx)), message.Fields{
		"message": "problem closing scan",
		"op":      s.op,
		"job":     s.job.ID,
	}))
	s.cursor = nil
}

// Close stops the scan and releases the scan context. It returns the
// fatal error, if any.
func (s *Scanner) Close(ctx context.Context) error {
	if !s.done {
		s.done = true
		s.job.FinishedAt = time.Now()
		s.closeCursor(ctx)
	}
	return s.err
}

// Run drives the scanner to the end and returns the job with the
// fatal error, if any.
func (s *Scanner) Run(ctx context.Context) (*model.BulkMutationJob, error) {
	for s.Next(ctx) {
	}
	return s.job, s.Close(ctx)
}
