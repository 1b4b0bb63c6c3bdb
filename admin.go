package docstore

import (
	"context"
	"sort"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// MappingMode selects how PutMapping treats an existing mapping.
type MappingMode int

const (
	// MappingMergeAdditive accepts new fields and rejects incompatible
	// redeclarations of existing ones.
	MappingMergeAdditive MappingMode = iota
	// MappingCreateOnly rejects the call if the index has any mapping.
	MappingCreateOnly
)

func (m MappingMode) String() string {
	if m == MappingCreateOnly {
		return "create-only"
	}
	return "merge-additive"
}

// Admin provisions and configures indices.
type Admin struct {
	backend db.Backend
	acks    *AckTracker
}

// CreateIndex provisions an index with its settings, schema and
// aliases. The change is a cluster-state update and may not be visible
// to reads immediately.
func (a *Admin) CreateIndex(ctx context.Context, handle model.IndexHandle) (Outcome, error) {
	if err := handle.Validate(); err != nil {
		return Outcome{Op: "create_index", Index: handle.Name}, a.acks.Failed(db.NewError(db.KindInvalidSchema, "create_index", handle.Name, "", err))
	}

	ack, err := a.backend.CreateIndex(ctx, handle)
	if err != nil {
		return Outcome{Op: "create_index", Index: handle.Name}, a.acks.Failed(errors.Wrapf(err, "creating index '%s'", handle.Name))
	}

	out, err := a.acks.Admin("create_index", handle.Name, ack)
	grip.Info(message.Fields{
		"message":  "created index",
		"op":       "create_index",
		"index":    handle.Name,
		"shards":   handle.Settings.ShardCount,
		"replicas": handle.Settings.ReplicaCount,
		"fields":   len(handle.Schema.Fields),
		"aliases":  handle.Aliases,
		"ack":      out.State.String(),
	})
	return out, err
}

func (a *Admin) DeleteIndex(ctx context.Context, name string) (Outcome, error) {
	ack, err := a.backend.DeleteIndex(ctx, name)
	if err != nil {
		return Outcome{Op: "delete_index", Index: name}, a.acks.Failed(errors.Wrapf(err, "deleting index '%s'", name))
	}

	out, err := a.acks.Admin("delete_index", name, ack)
	grip.Info(message.Fields{
		"message": "deleted index",
		"op":      "delete_index",
		"index":   name,
		"ack":     out.State.String(),
	})
	return out, err
}

// IndexExists reports if an index or alias with the name exists.
func (a *Admin) IndexExists(ctx context.Context, name string) (bool, error) {
	exists, err := a.backend.IndexExists(ctx, name)
	return exists, errors.Wrapf(err, "checking existence of index '%s'", name)
}

func (a *Admin) GetMapping(ctx context.Context, index string) (model.SchemaDescriptor, error) {
	schema, err := a.backend.GetMapping(ctx, index)
	if err != nil {
		return model.SchemaDescriptor{}, errors.Wrapf(err, "getting mapping of '%s'", index)
	}
	return schema, nil
}

// PutMapping applies a schema to an existing index. Compatibility is
// checked against the current mapping before the request is sent;
// the backend checks again atomically.
func (a *Admin) PutMapping(ctx context.Context, index string, schema model.SchemaDescriptor, mode MappingMode) (Outcome, error) {
	op := Outcome{Op: "put_mapping", Index: index}
	if err := schema.Validate(); err != nil {
		return op, a.acks.Failed(db.NewError(db.KindInvalidSchema, "put_mapping", index, "", err))
	}

	current, err := a.GetMapping(ctx, index)
	if err != nil {
		return op, a.acks.Failed(err)
	}

	switch mode {
	case MappingCreateOnly:
		if !current.IsEmpty() {
			return op, a.acks.Failed(db.Errorf(db.KindMappingConflict, "put_mapping", index, "",
				"index already has a mapping with %d fields", len(current.Fields)))
		}
	case MappingMergeAdditive:
		conflicts, err := current.Conflicts(schema)
		if err != nil {
			return op, a.acks.Failed(db.NewError(db.KindInvalidSchema, "put_mapping", index, "", err))
		}
		if len(conflicts) > 0 {
			for _, c := range conflicts {
				grip.Debug(message.Fields{
					"message":   "rejected field redeclaration",
					"op":        "put_mapping",
					"index":     index,
					"field":     c.Path,
					"existing":  c.Existing,
					"requested": c.Requested,
				})
			}
			return op, a.acks.Failed(db.Errorf(db.KindMappingConflict, "put_mapping", index, "", "%s", conflicts[0].String()))
		}
	default:
		return op, a.acks.Failed(db.Errorf(db.KindInvalidRequest, "put_mapping", index, "", "unknown mapping mode %d", mode))
	}

	ack, err := a.backend.PutMapping(ctx, index, schema)
	if err != nil {
		return op, a.acks.Failed(errors.Wrapf(err, "putting %s mapping on '%s'", mode, index))
	}
	return a.acks.Admin("put_mapping", index, ack)
}

// GetSettings returns the settings of the named indices. Indices that
// do not exist are absent from the result; use MissingIndices to find
// them.
func (a *Admin) GetSettings(ctx context.Context, names ...string) (map[string]model.Settings, error) {
	settings, err := a.backend.GetSettings(ctx, names...)
	if err != nil {
		return nil, errors.Wrap(err, "getting index settings")
	}
	return settings, nil
}

// MissingIndices returns the expected names absent from a GetSettings
// result, sorted.
func MissingIndices(expected []string, got map[string]model.Settings) []string {
	var out []string
	for _, name := range expected {
		if _, ok := got[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// UpdateSettings changes the mutable settings of the named indices.
// Only the replica count and the refresh interval may change after
// creation; a shard count change fails before any request is sent.
func (a *Admin) UpdateSettings(ctx context.Context, names []string, delta model.SettingsDelta) (Outcome, error) {
	op := Outcome{Op: "update_settings"}
	if len(names) == 1 {
		op.Index = names[0]
	}

	switch {
	case delta.ShardCount != nil:
		return op, a.acks.Failed(db.Errorf(db.KindImmutableSetting, "update_settings", op.Index, "",
			"shard count is fixed at creation and cannot be changed to %d", *delta.ShardCount))
	case delta.IsEmpty():
		return op, a.acks.Failed(db.Errorf(db.KindInvalidRequest, "update_settings", op.Index, "", "settings delta is empty"))
	case delta.ReplicaCount != nil && *delta.ReplicaCount < 0:
		return op, a.acks.Failed(db.Errorf(db.KindInvalidRequest, "update_settings", op.Index, "",
			"replica count must not be negative, got %d", *delta.ReplicaCount))
	}

	ack, err := a.backend.UpdateSettings(ctx, names, delta)
	if err != nil {
		return op, a.acks.Failed(errors.Wrapf(err, "updating settings of %v", names))
	}
	return a.acks.Admin("update_settings", op.Index, ack)
}

// AddAlias points alias at index. Adding an existing pairing succeeds.
func (a *Admin) AddAlias(ctx context.Context, index, alias string) (Outcome, error) {
	if err := model.ValidateIndexName(alias); err != nil {
		return Outcome{Op: "add_alias", Index: index}, a.acks.Failed(db.NewError(db.KindInvalidRequest, "add_alias", index, "", err))
	}

	ack, err := a.backend.AddAlias(ctx, index, alias)
	if err != nil {
		return Outcome{Op: "add_alias", Index: index}, a.acks.Failed(errors.Wrapf(err, "adding alias '%s' to '%s'", alias, index))
	}
	return a.acks.Admin("add_alias", index, ack)
}

// RemoveAlias detaches alias from index. Removing a pairing that does
// not exist fails with NotFound.
func (a *Admin) RemoveAlias(ctx context.Context, index, alias string) (Outcome, error) {
	ack, err := a.backend.RemoveAlias(ctx, index, alias)
	if err != nil {
		return Outcome{Op: "remove_alias", Index: index}, a.acks.Failed(errors.Wrapf(err, "removing alias '%s' from '%s'", alias, index))
	}
	return a.acks.Admin("remove_alias", index, ack)
}

func (a *Admin) GetAliases(ctx context.Context, index string) ([]string, error) {
	aliases, err := a.backend.GetAliases(ctx, index)
	return aliases, errors.Wrapf(err, "getting aliases of '%s'", index)
}

// Refresh makes pending writes of the named indices visible to
// searches. It has no effect on durability.
func (a *Admin) Refresh(ctx context.Context, names ...string) (Outcome, error) {
	stats, err := a.backend.Refresh(ctx, names...)
	if err != nil {
		return Outcome{Op: "refresh"}, a.acks.Failed(errors.Wrapf(err, "refreshing %v", names))
	}
	index := ""
	if len(names) == 1 {
		index = names[0]
	}
	return a.acks.Shards("refresh", index, stats)
}
