package apm

import (
	"context"
	"strings"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
)

// Wrap returns a backend that reports every call to the observers.
// Scans report the open call and each batch fetch separately.
func Wrap(backend db.Backend, observers ...Observer) db.Backend {
	return &instrumented{Backend: backend, observers: observers}
}

type instrumented struct {
	db.Backend
	observers []Observer
}

func (b *instrumented) start(ctx context.Context, call Call) (context.Context, func(error)) {
	call.Backend = b.Backend.Name()
	finishers := make([]func(error), 0, len(b.observers))
	for _, o := range b.observers {
		var done func(error)
		ctx, done = o.Observe(ctx, call)
		finishers = append(finishers, done)
	}
	return ctx, func(err error) {
		for i := len(finishers) - 1; i >= 0; i-- {
			finishers[i](err)
		}
	}
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "_all"
	default:
		return strings.Join(names, ",")
	}
}

func (b *instrumented) CreateIndex(ctx context.Context, h model.IndexHandle) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "create_index", Index: h.Name})
	ack, err := b.Backend.CreateIndex(ctx, h)
	done(err)
	return ack, err
}

func (b *instrumented) DeleteIndex(ctx context.Context, name string) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "delete_index", Index: name})
	ack, err := b.Backend.DeleteIndex(ctx, name)
	done(err)
	return ack, err
}

func (b *instrumented) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, done := b.start(ctx, Call{Operation: "index_exists", Index: name})
	ok, err := b.Backend.IndexExists(ctx, name)
	done(err)
	return ok, err
}

func (b *instrumented) GetMapping(ctx context.Context, name string) (model.SchemaDescriptor, error) {
	ctx, done := b.start(ctx, Call{Operation: "get_mapping", Index: name})
	schema, err := b.Backend.GetMapping(ctx, name)
	done(err)
	return schema, err
}

func (b *instrumented) PutMapping(ctx context.Context, name string, schema model.SchemaDescriptor) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "put_mapping", Index: name})
	ack, err := b.Backend.PutMapping(ctx, name, schema)
	done(err)
	return ack, err
}

func (b *instrumented) GetSettings(ctx context.Context, names ...string) (map[string]model.Settings, error) {
	ctx, done := b.start(ctx, Call{Operation: "get_settings", Index: joinNames(names)})
	out, err := b.Backend.GetSettings(ctx, names...)
	done(err)
	return out, err
}

func (b *instrumented) UpdateSettings(ctx context.Context, names []string, delta model.SettingsDelta) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "update_settings", Index: joinNames(names)})
	ack, err := b.Backend.UpdateSettings(ctx, names, delta)
	done(err)
	return ack, err
}

func (b *instrumented) GetAliases(ctx context.Context, name string) ([]string, error) {
	ctx, done := b.start(ctx, Call{Operation: "get_aliases", Index: name})
	out, err := b.Backend.GetAliases(ctx, name)
	done(err)
	return out, err
}

func (b *instrumented) AddAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "add_alias", Index: index, ID: alias})
	ack, err := b.Backend.AddAlias(ctx, index, alias)
	done(err)
	return ack, err
}

func (b *instrumented) RemoveAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	ctx, done := b.start(ctx, Call{Operation: "remove_alias", Index: index, ID: alias})
	ack, err := b.Backend.RemoveAlias(ctx, index, alias)
	done(err)
	return ack, err
}

func (b *instrumented) Refresh(ctx context.Context, names ...string) (db.ShardStats, error) {
	ctx, done := b.start(ctx, Call{Operation: "refresh", Index: joinNames(names)})
	stats, err := b.Backend.Refresh(ctx, names...)
	done(err)
	return stats, err
}

func (b *instrumented) IndexDocument(ctx context.Context, req db.IndexRequest) (*db.WriteResponse, error) {
	ctx, done := b.start(ctx, Call{Operation: "index", Index: req.Index, ID: req.ID, Statement: req.Source})
	resp, err := b.Backend.IndexDocument(ctx, req)
	done(err)
	return resp, err
}

func (b *instrumented) GetDocument(ctx context.Context, index, id string) (*model.Document, error) {
	ctx, done := b.start(ctx, Call{Operation: "get", Index: index, ID: id})
	doc, err := b.Backend.GetDocument(ctx, index, id)
	if db.ResultsNotFound(err) && !db.IndexNotFound(err) {
		// a missing document is an answer, not a failed call
		done(nil)
	} else {
		done(err)
	}
	return doc, err
}

func (b *instrumented) DeleteDocument(ctx context.Context, req db.DeleteRequest) (*db.WriteResponse, error) {
	ctx, done := b.start(ctx, Call{Operation: "delete", Index: req.Index, ID: req.ID})
	resp, err := b.Backend.DeleteDocument(ctx, req)
	done(err)
	return resp, err
}

func (b *instrumented) ScriptUpdate(ctx context.Context, req db.ScriptRequest) (*db.WriteResponse, error) {
	ctx, done := b.start(ctx, Call{
		Operation: "update",
		Index:     req.Index,
		ID:        req.ID,
		Statement: map[string]any{"script": map[string]any{"source": req.Script.Source, "lang": req.Script.Language(), "params": req.Script.Params}},
	})
	resp, err := b.Backend.ScriptUpdate(ctx, req)
	done(err)
	return resp, err
}

func (b *instrumented) OpenScan(ctx context.Context, req db.ScanRequest) (db.Cursor, error) {
	index := joinNames(req.Indices)
	scanCtx, done := b.start(ctx, Call{Operation: "search", Index: index, Statement: map[string]any{"query": map[string]any(req.Query)}})
	cursor, err := b.Backend.OpenScan(scanCtx, req)
	done(err)
	if err != nil {
		return nil, err
	}
	return &instrumentedCursor{Cursor: cursor, backend: b, index: index}, nil
}

type instrumentedCursor struct {
	db.Cursor
	backend *instrumented
	index   string
}

func (c *instrumentedCursor) Next(ctx context.Context) ([]model.Document, error) {
	ctx, done := c.backend.start(ctx, Call{Operation: "scroll", Index: c.index})
	batch, err := c.Cursor.Next(ctx)
	done(err)
	return batch, err
}

func (c *instrumentedCursor) Close(ctx context.Context) error {
	ctx, done := c.backend.start(ctx, Call{Operation: "clear_scroll", Index: c.index})
	err := c.Cursor.Close(ctx)
	done(err)
	return err
}
