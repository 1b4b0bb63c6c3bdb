package mdb

import (
	"context"
	"sort"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func nameFilter(name string) bson.M {
	return bson.M{"$or": bson.A{bson.M{"_id": name}, bson.M{"aliases": name}}}
}

// lookup returns the definitions name refers to, directly or through
// an alias.
func (b *Backend) lookup(ctx context.Context, op, name string) ([]metaRecord, error) {
	cursor, err := b.meta().Find(ctx, nameFilter(name), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapError(ctx, op, name, "", err)
	}
	var out []metaRecord
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapError(ctx, op, name, "", err)
	}
	return out, nil
}

// index resolves name to exactly one concrete index.
func (b *Backend) index(ctx context.Context, op, name string) (metaRecord, error) {
	found, err := b.lookup(ctx, op, name)
	if err != nil {
		return metaRecord{}, err
	}
	switch len(found) {
	case 0:
		return metaRecord{}, db.Errorf(db.KindNotFound, op, name, "", "no such index [%s]", name)
	case 1:
		return found[0], nil
	default:
		return metaRecord{}, db.Errorf(db.KindInvalidRequest, op, name, "", "alias [%s] has more than one index associated with it", name)
	}
}

// resolve expands names to concrete indices. No names means every
// index.
func (b *Backend) resolve(ctx context.Context, op string, names []string) ([]metaRecord, error) {
	if len(names) == 0 {
		cursor, err := b.meta().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return nil, wrapError(ctx, op, "", "", err)
		}
		var out []metaRecord
		if err = cursor.All(ctx, &out); err != nil {
			return nil, wrapError(ctx, op, "", "", err)
		}
		return out, nil
	}

	seen := map[string]struct{}{}
	var out []metaRecord
	for _, name := range names {
		found, err := b.lookup(ctx, op, name)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, db.Errorf(db.KindNotFound, op, name, "", "no such index [%s]", name)
		}
		for _, m := range found {
			if _, ok := seen[m.Name]; ok {
				continue
			}
			seen[m.Name] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) CreateIndex(ctx context.Context, h model.IndexHandle) (db.AdminAck, error) {
	if err := h.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "create_index", h.Name, "", err)
	}
	existing, err := b.lookup(ctx, "create_index", h.Name)
	if err != nil {
		return db.AdminAck{}, err
	}
	if len(existing) > 0 {
		return db.AdminAck{}, db.Errorf(db.KindAlreadyExists, "create_index", h.Name, "", "index [%s] already exists", h.Name)
	}

	res, err := b.meta().InsertOne(ctx, newMetaRecord(h))
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "create_index", h.Name, "", err)
	}
	if err = b.database.CreateCollection(ctx, h.Name); err != nil {
		return db.AdminAck{}, wrapError(ctx, "create_index", h.Name, "", err)
	}
	return acknowledged(res.Acknowledged), nil
}

func (b *Backend) DeleteIndex(ctx context.Context, name string) (db.AdminAck, error) {
	res, err := b.meta().DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "delete_index", name, "", err)
	}
	if res.DeletedCount == 0 {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "delete_index", name, "", "no such index [%s]", name)
	}
	if err = b.database.Collection(name).Drop(ctx); err != nil {
		return db.AdminAck{}, wrapError(ctx, "delete_index", name, "", err)
	}
	return acknowledged(res.Acknowledged), nil
}

func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	n, err := b.meta().CountDocuments(ctx, nameFilter(name))
	if err != nil {
		return false, wrapError(ctx, "index_exists", name, "", err)
	}
	return n > 0, nil
}

func (b *Backend) GetMapping(ctx context.Context, name string) (model.SchemaDescriptor, error) {
	m, err := b.index(ctx, "get_mapping", name)
	if err != nil {
		return model.SchemaDescriptor{}, err
	}
	return m.schema(), nil
}

func (b *Backend) PutMapping(ctx context.Context, name string, schema model.SchemaDescriptor) (db.AdminAck, error) {
	m, err := b.index(ctx, "put_mapping", name)
	if err != nil {
		return db.AdminAck{}, err
	}
	if err = schema.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "put_mapping", name, "", err)
	}

	merged, conflicts, err := m.schema().MergeAdditive(schema)
	if len(conflicts) > 0 {
		return db.AdminAck{}, db.NewError(db.KindMappingConflict, "put_mapping", m.Name, "", err)
	}
	if err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "put_mapping", m.Name, "", err)
	}

	res, err := b.meta().UpdateOne(ctx, bson.M{"_id": m.Name}, bson.M{"$set": bson.M{"fields": fieldRecords(merged)}})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "put_mapping", m.Name, "", err)
	}
	return acknowledged(res.Acknowledged), nil
}

func (b *Backend) GetSettings(ctx context.Context, names ...string) (map[string]model.Settings, error) {
	var found []metaRecord
	if len(names) == 0 {
		all, err := b.resolve(ctx, "get_settings", nil)
		if err != nil {
			return nil, err
		}
		found = all
	}
	for _, name := range names {
		matched, err := b.lookup(ctx, "get_settings", name)
		if err != nil {
			return nil, err
		}
		found = append(found, matched...)
	}

	out := make(map[string]model.Settings, len(found))
	for _, m := range found {
		out[m.Name] = m.Settings
	}
	return out, nil
}

func (b *Backend) UpdateSettings(ctx context.Context, names []string, delta model.SettingsDelta) (db.AdminAck, error) {
	if delta.ShardCount != nil {
		return db.AdminAck{}, db.Errorf(db.KindImmutableSetting, "update_settings", "", "", "final setting [index.number_of_shards] cannot be updated")
	}
	targets, err := b.resolve(ctx, "update_settings", names)
	if err != nil {
		return db.AdminAck{}, err
	}

	updated := make(map[string]model.Settings, len(targets))
	for _, m := range targets {
		next := m.Settings.Apply(delta)
		if err = next.Validate(); err != nil {
			return db.AdminAck{}, db.NewError(db.KindInvalidRequest, "update_settings", m.Name, "", err)
		}
		updated[m.Name] = next
	}

	ack := db.Acked()
	for name, settings := range updated {
		res, err := b.meta().UpdateOne(ctx, bson.M{"_id": name}, bson.M{"$set": bson.M{"settings": settings}})
		if err != nil {
			return db.AdminAck{}, wrapError(ctx, "update_settings", name, "", err)
		}
		if !res.Acknowledged {
			ack = acknowledged(false)
		}
	}
	return ack, nil
}

func (b *Backend) GetAliases(ctx context.Context, name string) ([]string, error) {
	var m metaRecord
	err := b.meta().FindOne(ctx, bson.M{"_id": name}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.Errorf(db.KindNotFound, "get_aliases", name, "", "no such index [%s]", name)
	}
	if err != nil {
		return nil, wrapError(ctx, "get_aliases", name, "", err)
	}
	out := append([]string{}, m.Aliases...)
	sort.Strings(out)
	return out, nil
}

func (b *Backend) AddAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	n, err := b.meta().CountDocuments(ctx, bson.M{"_id": alias})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "add_alias", index, "", err)
	}
	if n > 0 {
		return db.AdminAck{}, db.Errorf(db.KindInvalidRequest, "add_alias", index, "", "an index named [%s] already exists", alias)
	}

	res, err := b.meta().UpdateOne(ctx, bson.M{"_id": index}, bson.M{"$addToSet": bson.M{"aliases": alias}})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "add_alias", index, "", err)
	}
	if res.MatchedCount == 0 {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "add_alias", index, "", "no such index [%s]", index)
	}
	return acknowledged(res.Acknowledged), nil
}

func (b *Backend) RemoveAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	res, err := b.meta().UpdateOne(ctx, bson.M{"_id": index, "aliases": alias}, bson.M{"$pull": bson.M{"aliases": alias}})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "remove_alias", index, "", err)
	}
	if res.MatchedCount > 0 {
		return acknowledged(res.Acknowledged), nil
	}

	exists, err := b.meta().CountDocuments(ctx, bson.M{"_id": index})
	if err != nil {
		return db.AdminAck{}, wrapError(ctx, "remove_alias", index, "", err)
	}
	if exists == 0 {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "remove_alias", index, "", "no such index [%s]", index)
	}
	return db.AdminAck{}, db.Errorf(db.KindNotFound, "remove_alias", index, "", "aliases [%s] missing", alias)
}

// Refresh is immediate: acknowledged writes are already visible to
// reads.
func (b *Backend) Refresh(ctx context.Context, names ...string) (db.ShardStats, error) {
	targets, err := b.resolve(ctx, "refresh", names)
	if err != nil {
		return db.ShardStats{}, err
	}
	return db.ShardStats{Total: len(targets), Successful: len(targets)}, nil
}
