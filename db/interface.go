package db

import (
	"context"

	"github.com/mongodb/docstore/model"
)

// IndexAdmin is the cluster-state half of a backend. Every method is a
// single round trip and blocks until the backend answers or ctx ends.
type IndexAdmin interface {
	CreateIndex(context.Context, model.IndexHandle) (AdminAck, error)
	DeleteIndex(context.Context, string) (AdminAck, error)
	IndexExists(context.Context, string) (bool, error)

	GetMapping(context.Context, string) (model.SchemaDescriptor, error)
	// PutMapping merges the schema into the index mapping. Backends
	// reject incompatible redeclarations with a MappingConflict.
	PutMapping(context.Context, string, model.SchemaDescriptor) (AdminAck, error)

	// GetSettings omits missing indices from the result instead of
	// failing. An empty name list means every index.
	GetSettings(context.Context, ...string) (map[string]model.Settings, error)
	UpdateSettings(context.Context, []string, model.SettingsDelta) (AdminAck, error)

	GetAliases(context.Context, string) ([]string, error)
	AddAlias(ctx context.Context, index, alias string) (AdminAck, error)
	RemoveAlias(ctx context.Context, index, alias string) (AdminAck, error)

	Refresh(context.Context, ...string) (ShardStats, error)
}

// DocumentAccess is the single-document half of a backend.
type DocumentAccess interface {
	IndexDocument(context.Context, IndexRequest) (*WriteResponse, error)
	GetDocument(ctx context.Context, index, id string) (*model.Document, error)
	DeleteDocument(context.Context, DeleteRequest) (*WriteResponse, error)
	// ScriptUpdate executes an opaque script against the stored source
	// atomically: the mutation fully applies or fully fails.
	ScriptUpdate(context.Context, ScriptRequest) (*WriteResponse, error)
}

// Scanner opens point-in-time scans over query results.
type Scanner interface {
	OpenScan(context.Context, ScanRequest) (Cursor, error)
}

// Backend is the external collaborator every component talks to.
// Implementations own connection pooling and must be safe for
// concurrent use.
type Backend interface {
	IndexAdmin
	DocumentAccess
	Scanner

	// Name identifies the backend kind in logs and spans.
	Name() string
	Close(context.Context) error
}
