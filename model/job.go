package model

import "time"

// Query is a filter predicate in the backend's query DSL. The client
// passes it through; only the in-memory and MongoDB backends evaluate
// it themselves, and only for the constructors below.
type Query map[string]any

// MatchAll matches every document.
func MatchAll() Query { return Query{"match_all": map[string]any{}} }

// Term matches documents whose field equals value exactly.
func Term(field string, value any) Query {
	return Query{"term": map[string]any{field: value}}
}

// Terms matches documents whose field equals any of values.
func Terms(field string, values ...any) Query {
	return Query{"terms": map[string]any{field: values}}
}

// Match matches documents whose field contains value (as text).
func Match(field string, value any) Query {
	return Query{"match": map[string]any{field: value}}
}

// Exists matches documents that have the field.
func Exists(field string) Query {
	return Query{"exists": map[string]any{"field": field}}
}

// Bool combines clauses. Nil slices are omitted.
func Bool(must, filter, should, mustNot []Query) Query {
	body := map[string]any{}
	add := func(key string, qs []Query) {
		if len(qs) == 0 {
			return
		}
		clauses := make([]any, len(qs))
		for i := range qs {
			clauses[i] = map[string]any(qs[i])
		}
		body[key] = clauses
	}
	add("must", must)
	add("filter", filter)
	add("should", should)
	add("must_not", mustNot)
	return Query{"bool": body}
}

// ConflictPolicy decides what a bulk job does on a version conflict.
type ConflictPolicy string

const (
	// ConflictsProceed records conflicts as partial failures.
	ConflictsProceed ConflictPolicy = "proceed"
	// ConflictsAbort stops the job at the first conflict.
	ConflictsAbort ConflictPolicy = "abort"
)

// Failure is one document a bulk job could not mutate, or mutated
// without full acknowledgement in strict mode. Kind names the failure
// class ("version conflict", "partially acknowledged", ...) so it
// survives serialization when Cause does not.
type Failure struct {
	Index    string `json:"index" yaml:"index"`
	ID       string `json:"id" yaml:"id"`
	Kind     string `json:"kind" yaml:"kind"`
	Conflict bool   `json:"conflict" yaml:"conflict"`
	Cause    error  `json:"-" yaml:"-"`
}

// Progress accumulates the counters of a bulk job.
type Progress struct {
	// Matched is the number of hits the scan reported when opened.
	Matched int `json:"matched" yaml:"matched"`
	// Scanned counts documents delivered by the scan.
	Scanned             int       `json:"scanned" yaml:"scanned"`
	Deleted             int       `json:"deleted" yaml:"deleted"`
	Updated             int       `json:"updated" yaml:"updated"`
	Noops               int       `json:"noops" yaml:"noops"`
	VersionConflicts    int       `json:"version_conflicts" yaml:"version_conflicts"`
	PartialAcknowledged int       `json:"partial_acknowledged" yaml:"partial_acknowledged"`
	Batches             int       `json:"batches" yaml:"batches"`
	Failures            []Failure `json:"failures" yaml:"failures"`
}

// Mutated is the number of documents deleted or updated.
func (p Progress) Mutated() int { return p.Deleted + p.Updated }

// BulkMutationJob is the state of one delete- or update-by-query run.
// It is owned by the call that created it.
type BulkMutationJob struct {
	ID            string    `json:"id" yaml:"id"`
	Query         Query     `json:"query" yaml:"query"`
	TargetIndices []string  `json:"indices" yaml:"indices"`
	BatchSize     int       `json:"batch_size" yaml:"batch_size"`
	Progress      Progress  `json:"progress" yaml:"progress"`
	Completed     bool      `json:"completed" yaml:"completed"`
	Canceled      bool      `json:"canceled" yaml:"canceled"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time `json:"finished_at" yaml:"finished_at"`
}

// Took is the wall time of a finished job.
func (j *BulkMutationJob) Took() time.Duration {
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Range matches documents whose field falls within the bounds. Keys
// are gt, gte, lt and lte.
func Range(field string, bounds map[string]any) Query {
	return Query{"range": map[string]any{field: bounds}}
}

// IDs matches documents by id.
func IDs(ids ...string) Query {
	values := make([]any, len(ids))
	for i := range ids {
		values[i] = ids[i]
	}
	return Query{"ids": map[string]any{"values": values}}
}
