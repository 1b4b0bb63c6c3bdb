package docstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/amboy"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// GenerateBulkJobs splits a bulk mutation into one BulkJob per target
// index so that the indices can be processed in parallel on a queue.
// Aliases are resolved to the indices behind them and an empty target
// list means every index. A name that resolves to nothing fails with
// an index level NotFound before any job is built.
func GenerateBulkJobs(ctx context.Context, env Environment, def BulkJobDefinition) ([]amboy.Job, error) {
	switch def.Operation {
	case "delete_by_query":
	case "update_by_query":
		if _, err := def.directive(); err != nil {
			return nil, db.NewError(db.KindInvalidRequest, def.Operation, "", "", err)
		}
	default:
		return nil, db.Errorf(db.KindInvalidRequest, def.Operation, "", "", "unknown bulk operation '%s'", def.Operation)
	}
	if err := def.Request.Validate(); err != nil {
		return nil, db.NewError(db.KindInvalidRequest, def.Operation, "", "", err)
	}

	backend, err := env.GetBackend()
	if err != nil {
		return nil, errors.Wrap(err, "problem getting backend")
	}

	for _, name := range def.Request.Indices {
		exists, err := backend.IndexExists(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "checking target '%s'", name)
		}
		if !exists {
			return nil, db.Errorf(db.KindNotFound, def.Operation, name, "", "no such index [%s]", name)
		}
	}

	settings, err := backend.GetSettings(ctx, def.Request.Indices...)
	if err != nil {
		return nil, errors.Wrap(err, "resolving target indices")
	}
	indices := make([]string, 0, len(settings))
	for name := range settings {
		indices = append(indices, name)
	}
	sort.Strings(indices)

	group := uuid.New().String()
	out := make([]amboy.Job, 0, len(indices))
	for _, index := range indices {
		part := def
		part.Request.Indices = []string{index}
		j := newBulkJob(env, part)
		j.SetID(fmt.Sprintf("%s.%s.%s.%s", bulkJobName, def.Operation, group, index))
		out = append(out, j)
	}

	grip.Info(message.Fields{
		"message": "generated bulk jobs",
		"op":      def.Operation,
		"group":   group,
		"indices": indices,
		"jobs":    len(out),
	})

	return out, nil
}

// AddBulkJobs puts the jobs on the environment's queue and returns how
// many were added. It keeps going past individual failures.
func AddBulkJobs(ctx context.Context, env Environment, jobs ...amboy.Job) (int, error) {
	q, err := env.GetQueue()
	if err != nil {
		return 0, errors.Wrap(err, "problem getting queue")
	}

	catcher := grip.NewBasicCatcher()
	count := 0
	for _, j := range jobs {
		if err := q.Put(ctx, j); err != nil {
			catcher.Wrapf(err, "adding job '%s'", j.ID())
			continue
		}
		count++
	}

	grip.Info(message.Fields{
		"message": "added bulk jobs",
		"added":   count,
		"total":   len(jobs),
	})
	return count, catcher.Resolve()
}

// SummarizeBulkJobs merges the progress of finished bulk jobs into one
// job state. The summary is complete only when every part completed,
// and the returned error collects the errors of every part.
func SummarizeBulkJobs(jobs ...amboy.Job) (*model.BulkMutationJob, error) {
	out := &model.BulkMutationJob{
		ID:            uuid.New().String(),
		TargetIndices: []string{},
		Completed:     len(jobs) > 0,
		Progress:      model.Progress{Failures: []model.Failure{}},
	}

	catcher := grip.NewBasicCatcher()
	for _, j := range jobs {
		catcher.Add(j.Error())

		bulk, ok := j.(*BulkJob)
		if !ok {
			catcher.Errorf("job '%s' is a %s, not a bulk job", j.ID(), j.Type().Name)
			out.Completed = false
			continue
		}
		result, ok := bulk.Progress()
		if !ok {
			out.Completed = false
			continue
		}

		out.Query = result.Query
		out.BatchSize = result.BatchSize
		out.TargetIndices = append(out.TargetIndices, result.TargetIndices...)
		out.Completed = out.Completed && result.Completed
		out.Canceled = out.Canceled || result.Canceled
		out.StartedAt = earliest(out.StartedAt, result.StartedAt)
		if result.FinishedAt.After(out.FinishedAt) {
			out.FinishedAt = result.FinishedAt
		}
		addProgress(&out.Progress, result.Progress)
	}
	sort.Strings(out.TargetIndices)

	return out, catcher.Resolve()
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() || (!b.IsZero() && b.Before(a)) {
		return b
	}
	return a
}

func addProgress(total *model.Progress, part model.Progress) {
	total.Matched += part.Matched
	total.Scanned += part.Scanned
	total.Deleted += part.Deleted
	total.Updated += part.Updated
	total.Noops += part.Noops
	total.VersionConflicts += part.VersionConflicts
	total.PartialAcknowledged += part.PartialAcknowledged
	total.Batches += part.Batches
	total.Failures = append(total.Failures, part.Failures...)
}
