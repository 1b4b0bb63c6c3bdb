package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

const bulkJobName = "docstore-bulk-mutation"

func init() {
	registry.AddJobType(bulkJobName, func() amboy.Job { return makeBulkJob() })
}

// BulkJobDefinition is the serializable form of a bulk mutation. An
// update carries either Partial or Script.
type BulkJobDefinition struct {
	Operation string         `bson:"operation" json:"operation" yaml:"operation"`
	Request   BulkRequest    `bson:"request" json:"request" yaml:"request"`
	Partial   map[string]any `bson:"partial,omitempty" json:"partial,omitempty" yaml:"partial,omitempty"`
	Script    *model.Script  `bson:"script,omitempty" json:"script,omitempty" yaml:"script,omitempty"`
}

func (d BulkJobDefinition) directive() (model.UpdateDirective, error) {
	switch {
	case d.Partial != nil && d.Script != nil:
		return nil, errors.New("bulk update names both a partial document and a script")
	case d.Partial != nil:
		return model.MergeFields(d.Partial), nil
	case d.Script != nil:
		return model.ScriptMutation{Script: *d.Script}, nil
	default:
		return nil, errors.New("bulk update names neither a partial document nor a script")
	}
}

// BulkJob runs a delete- or update-by-query on an amboy queue. The
// backend comes from the job's Environment.
type BulkJob struct {
	Definition BulkJobDefinition      `bson:"definition" json:"definition" yaml:"definition"`
	Result     *model.BulkMutationJob `bson:"result,omitempty" json:"result,omitempty" yaml:"result,omitempty"`
	job.Base   `bson:"job_base" json:"job_base" yaml:"job_base"`

	env Environment
	mu  sync.Mutex
}

func makeBulkJob() *BulkJob {
	j := &BulkJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    bulkJobName,
				Version: 0,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

func newBulkJob(env Environment, def BulkJobDefinition) *BulkJob {
	j := makeBulkJob()
	j.env = env
	j.Definition = def
	j.SetID(fmt.Sprintf("%s.%s.%s", bulkJobName, def.Operation, uuid.New().String()))
	return j
}

// NewDeleteByQueryJob returns a job that deletes every document
// matching req.
func NewDeleteByQueryJob(env Environment, req BulkRequest) amboy.Job {
	return newBulkJob(env, BulkJobDefinition{Operation: "delete_by_query", Request: req})
}

// NewUpdateByQueryJob returns a job that applies directive to every
// document matching req.
func NewUpdateByQueryJob(env Environment, req BulkRequest, directive model.UpdateDirective) (amboy.Job, error) {
	def := BulkJobDefinition{Operation: "update_by_query", Request: req}
	switch d := directive.(type) {
	case model.FieldMerge:
		def.Partial = d.Partial
	case model.ScriptMutation:
		script := d.Script
		def.Script = &script
	default:
		return nil, errors.Errorf("unsupported directive %T", directive)
	}
	if err := directive.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid bulk update directive")
	}
	return newBulkJob(env, def), nil
}

// Env returns the job's environment, falling back to the global one.
func (j *BulkJob) Env() Environment {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.env == nil {
		j.env = GetEnvironment()
	}
	return j.env
}

// Progress returns the job state recorded by the last run.
func (j *BulkJob) Progress() (*model.BulkMutationJob, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Result, j.Result != nil
}

func (j *BulkJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	backend, err := j.Env().GetBackend()
	if err != nil {
		j.AddError(errors.Wrap(err, "problem getting backend"))
		return
	}

	opts := envOptions(j.Env())
	mutator := &BulkMutator{
		backend:   backend,
		acks:      opts.acks,
		batchSize: opts.batchSize,
		keepAlive: opts.keepAlive,
	}

	var scanner *Scanner
	switch j.Definition.Operation {
	case "delete_by_query":
		scanner, err = mutator.NewDeleteScanner(j.Definition.Request)
	case "update_by_query":
		var directive model.UpdateDirective
		directive, err = j.Definition.directive()
		if err == nil {
			scanner, err = mutator.NewUpdateScanner(j.Definition.Request, directive)
		}
	default:
		err = db.Errorf(db.KindInvalidRequest, j.Definition.Operation, "", "", "unknown bulk operation '%s'", j.Definition.Operation)
	}
	if err != nil {
		j.AddError(err)
		return
	}

	result, err := scanner.Run(ctx)

	j.mu.Lock()
	j.Result = result
	j.mu.Unlock()

	j.AddError(err)
}
