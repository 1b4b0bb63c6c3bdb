package docstore

import (
	"sync"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// AckState is the acknowledgement tri-state of a mutating call.
type AckState int

const (
	AckFailed AckState = iota
	Acknowledged
	PartialAcknowledged
)

func (s AckState) String() string {
	switch s {
	case Acknowledged:
		return "acknowledged"
	case PartialAcknowledged:
		return "partially-acknowledged"
	default:
		return "failed"
	}
}

// Outcome describes how far a mutation was confirmed. A partial
// outcome means the change was applied but not every shard copy (or
// the master, for cluster-state changes) confirmed it in time.
type Outcome struct {
	State  AckState      `json:"state" yaml:"state"`
	Op     string        `json:"op" yaml:"op"`
	Index  string        `json:"index,omitempty" yaml:"index,omitempty"`
	ID     string        `json:"id,omitempty" yaml:"id,omitempty"`
	Shards db.ShardStats `json:"shards" yaml:"shards"`
}

func (o Outcome) Acknowledged() bool { return o.State == Acknowledged }
func (o Outcome) Partial() bool      { return o.State == PartialAcknowledged }

// AckStats counts outcomes per state.
type AckStats struct {
	Acknowledged int `json:"acknowledged" yaml:"acknowledged"`
	Partial      int `json:"partial" yaml:"partial"`
	Failed       int `json:"failed" yaml:"failed"`
}

// AckTracker interprets backend results uniformly for every
// component. It is safe for concurrent use.
type AckTracker struct {
	strict bool
	stats  AckStats
	mu     sync.Mutex
}

// NewAckTracker builds a tracker. In strict mode partial outcomes are
// returned as KindPartialAcknowledged errors.
func NewAckTracker(strict bool) *AckTracker { return &AckTracker{strict: strict} }

func (t *AckTracker) Strict() bool { return t.strict }

// Stats returns a snapshot of the counters.
func (t *AckTracker) Stats() AckStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *AckTracker) record(state AckState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch state {
	case Acknowledged:
		t.stats.Acknowledged++
	case PartialAcknowledged:
		t.stats.Partial++
	default:
		t.stats.Failed++
	}
}

// Failed counts a failed call and returns err unchanged.
func (t *AckTracker) Failed(err error) error {
	if err != nil {
		t.record(AckFailed)
	}
	return err
}

// Document interprets the shard report of a document write. A write no
// shard copy confirmed is an error; one some copies confirmed is
// partial. Writes that touched no shards, like noops, are acknowledged.
func (t *AckTracker) Document(op string, resp *db.WriteResponse) (Outcome, error) {
	if resp == nil {
		t.record(AckFailed)
		return Outcome{Op: op}, db.Errorf(db.KindUnknown, op, "", "", "backend returned no response")
	}

	out := Outcome{Op: op, Index: resp.Index, ID: resp.ID, Shards: resp.Shards}
	switch {
	case resp.Shards.Total == 0:
		out.State = Acknowledged
	case resp.Shards.Successful == 0:
		t.record(AckFailed)
		return out, db.Errorf(db.KindBackendUnavailable, op, resp.Index, resp.ID,
			"no shard copy confirmed the write (%d failed of %d)", resp.Shards.Failed, resp.Shards.Total)
	case resp.Shards.Successful < resp.Shards.Total:
		out.State = PartialAcknowledged
	default:
		out.State = Acknowledged
	}

	return t.finish(out)
}

// Admin interprets the acknowledgement flags of a cluster-state change.
func (t *AckTracker) Admin(op, index string, ack db.AdminAck) (Outcome, error) {
	out := Outcome{Op: op, Index: index, State: Acknowledged}
	if !ack.Acknowledged || !ack.ShardsAcknowledged {
		out.State = PartialAcknowledged
	}
	return t.finish(out)
}

// Shards interprets a broadcast shard report such as a refresh.
func (t *AckTracker) Shards(op, index string, stats db.ShardStats) (Outcome, error) {
	return t.Document(op, &db.WriteResponse{Index: index, Shards: stats})
}

func (t *AckTracker) finish(out Outcome) (Outcome, error) {
	t.record(out.State)
	if out.State != PartialAcknowledged {
		return out, nil
	}

	grip.Warning(message.Fields{
		"message":    "mutation was only partially acknowledged",
		"op":         out.Op,
		"index":      out.Index,
		"id":         out.ID,
		"shards":     out.Shards,
		"strict":     t.strict,
		"successful": out.Shards.Successful,
		"total":      out.Shards.Total,
	})

	if !t.strict {
		return out, nil
	}
	cause := errors.New("change was not acknowledged before the timeout")
	if out.Shards.Total > 0 {
		cause = errors.Errorf("%d of %d shard copies confirmed", out.Shards.Successful, out.Shards.Total)
	}
	return out, db.NewError(db.KindPartialAcknowledged, out.Op, out.Index, out.ID, cause)
}
