package db

import (
	"time"

	"github.com/mongodb/docstore/model"
)

// RefreshPolicy controls when a write becomes visible to searches.
type RefreshPolicy string

const (
	RefreshDefault RefreshPolicy = ""
	RefreshFalse   RefreshPolicy = "false"
	RefreshTrue    RefreshPolicy = "true"
	RefreshWaitFor RefreshPolicy = "wait_for"
)

// OpType selects replace-or-create versus create-only writes.
type OpType string

const (
	OpIndex  OpType = "index"
	OpCreate OpType = "create"
)

// Result is the backend's verdict on a document write.
type Result string

const (
	ResultCreated  Result = "created"
	ResultUpdated  Result = "updated"
	ResultDeleted  Result = "deleted"
	ResultNotFound Result = "not_found"
	ResultNoop     Result = "noop"
)

// IndexRequest writes a whole document. An empty ID asks the backend
// to generate one. IfMatch makes the write conditional.
type IndexRequest struct {
	Index   string
	ID      string
	Source  map[string]any
	OpType  OpType
	IfMatch *model.Revision
	Refresh RefreshPolicy
}

// DeleteRequest removes one document, optionally conditionally.
type DeleteRequest struct {
	Index   string
	ID      string
	IfMatch *model.Revision
	Refresh RefreshPolicy
}

// ScriptRequest runs a script against one stored document.
type ScriptRequest struct {
	Index   string
	ID      string
	Script  model.Script
	IfMatch *model.Revision
	Refresh RefreshPolicy
}

// ScanRequest opens a scan over every document matching Query.
type ScanRequest struct {
	Indices   []string
	Query     model.Query
	BatchSize int
	KeepAlive time.Duration
}

// ShardStats reports how many shard copies confirmed a write.
type ShardStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// WriteResponse is returned by every document write.
type WriteResponse struct {
	Index    string
	ID       string
	Version  int64
	Revision model.Revision
	Result   Result
	Shards   ShardStats
}

// AdminAck is returned by cluster-state changes. ShardsAcknowledged is
// only meaningful for index creation; other operations copy
// Acknowledged into it.
type AdminAck struct {
	Acknowledged       bool
	ShardsAcknowledged bool
}

// Acked builds a fully acknowledged AdminAck.
func Acked() AdminAck { return AdminAck{Acknowledged: true, ShardsAcknowledged: true} }
