package esdb

import (
	"context"
	"net/http"
	"sort"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
)

func (b *Backend) CreateIndex(ctx context.Context, h model.IndexHandle) (db.AdminAck, error) {
	if err := h.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "create_index", h.Name, "", err)
	}

	aliases := make(map[string]any, len(h.Aliases))
	for _, alias := range h.Aliases {
		aliases[alias] = map[string]any{}
	}
	body, err := encode(map[string]any{
		"settings": map[string]any{"index": toSettings(h.Settings)},
		"mappings": toMappings(h.Schema),
		"aliases":  aliases,
	})
	if err != nil {
		return db.AdminAck{}, err
	}

	res, err := b.client.Indices.Create(h.Name,
		b.client.Indices.Create.WithContext(ctx),
		b.client.Indices.Create.WithBody(body),
	)
	var out ackResponse
	if err = b.decode(ctx, "create_index", h.Name, "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) DeleteIndex(ctx context.Context, name string) (db.AdminAck, error) {
	res, err := b.client.Indices.Delete([]string{name}, b.client.Indices.Delete.WithContext(ctx))
	var out ackResponse
	if err = b.decode(ctx, "delete_index", name, "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := b.client.Indices.Exists([]string{name}, b.client.Indices.Exists.WithContext(ctx))
	status, body, err := read(ctx, "index_exists", name, "", res, err)
	switch {
	case err != nil:
		return false, err
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("index_exists", name, "", status, body)
	}
}

func (b *Backend) GetMapping(ctx context.Context, name string) (model.SchemaDescriptor, error) {
	res, err := b.client.Indices.GetMapping(
		b.client.Indices.GetMapping.WithContext(ctx),
		b.client.Indices.GetMapping.WithIndex(name),
	)
	out := map[string]struct {
		Mappings mappings `json:"mappings"`
	}{}
	if err = b.decode(ctx, "get_mapping", name, "", res, err, &out); err != nil {
		return model.SchemaDescriptor{}, err
	}
	if len(out) != 1 {
		return model.SchemaDescriptor{}, db.Errorf(db.KindInvalidRequest, "get_mapping", name, "",
			"[%s] resolves to %d indices", name, len(out))
	}
	for _, idx := range out {
		return fromMappings(idx.Mappings), nil
	}
	return model.SchemaDescriptor{}, nil
}

func (b *Backend) PutMapping(ctx context.Context, name string, schema model.SchemaDescriptor) (db.AdminAck, error) {
	if err := schema.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "put_mapping", name, "", err)
	}
	body, err := encode(toMappings(schema))
	if err != nil {
		return db.AdminAck{}, err
	}

	res, err := b.client.Indices.PutMapping([]string{name}, body, b.client.Indices.PutMapping.WithContext(ctx))
	var out ackResponse
	if err = b.decode(ctx, "put_mapping", name, "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) GetSettings(ctx context.Context, names ...string) (map[string]model.Settings, error) {
	res, err := b.client.Indices.GetSettings(
		b.client.Indices.GetSettings.WithContext(ctx),
		b.client.Indices.GetSettings.WithIndex(names...),
		b.client.Indices.GetSettings.WithIgnoreUnavailable(true),
		b.client.Indices.GetSettings.WithAllowNoIndices(true),
	)
	stored := map[string]storedSettings{}
	if err = b.decode(ctx, "get_settings", joinNames(names), "", res, err, &stored); err != nil {
		if db.IndexNotFound(err) {
			return map[string]model.Settings{}, nil
		}
		return nil, err
	}

	out := make(map[string]model.Settings, len(stored))
	for name, s := range stored {
		settings, err := s.settings()
		if err != nil {
			return nil, db.NewError(db.KindUnknown, "get_settings", name, "", err)
		}
		out[name] = settings
	}
	return out, nil
}

func (b *Backend) UpdateSettings(ctx context.Context, names []string, delta model.SettingsDelta) (db.AdminAck, error) {
	if delta.ShardCount != nil {
		return db.AdminAck{}, db.Errorf(db.KindImmutableSetting, "update_settings", joinNames(names), "",
			"final setting [index.number_of_shards] cannot be updated")
	}
	body, err := encode(map[string]any{"index": toSettingsDelta(delta)})
	if err != nil {
		return db.AdminAck{}, err
	}

	res, err := b.client.Indices.PutSettings(body,
		b.client.Indices.PutSettings.WithContext(ctx),
		b.client.Indices.PutSettings.WithIndex(names...),
	)
	var out ackResponse
	if err = b.decode(ctx, "update_settings", joinNames(names), "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) GetAliases(ctx context.Context, name string) ([]string, error) {
	res, err := b.client.Indices.GetAlias(
		b.client.Indices.GetAlias.WithContext(ctx),
		b.client.Indices.GetAlias.WithIndex(name),
	)
	stored := map[string]struct {
		Aliases map[string]any `json:"aliases"`
	}{}
	if err = b.decode(ctx, "get_aliases", name, "", res, err, &stored); err != nil {
		return nil, err
	}

	idx, ok := stored[name]
	if !ok {
		return nil, db.Errorf(db.KindNotFound, "get_aliases", name, "", "no such index [%s]", name)
	}
	out := make([]string, 0, len(idx.Aliases))
	for alias := range idx.Aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) AddAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	res, err := b.client.Indices.PutAlias([]string{index}, alias, b.client.Indices.PutAlias.WithContext(ctx))
	var out ackResponse
	if err = b.decode(ctx, "add_alias", index, "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) RemoveAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	res, err := b.client.Indices.DeleteAlias([]string{index}, []string{alias}, b.client.Indices.DeleteAlias.WithContext(ctx))
	var out ackResponse
	if err = b.decode(ctx, "remove_alias", index, "", res, err, &out); err != nil {
		return db.AdminAck{}, err
	}
	return out.ack(), nil
}

func (b *Backend) Refresh(ctx context.Context, names ...string) (db.ShardStats, error) {
	res, err := b.client.Indices.Refresh(
		b.client.Indices.Refresh.WithContext(ctx),
		b.client.Indices.Refresh.WithIndex(names...),
	)
	var out struct {
		Shards db.ShardStats `json:"_shards"`
	}
	if err = b.decode(ctx, "refresh", joinNames(names), "", res, err, &out); err != nil {
		return db.ShardStats{}, err
	}
	return out.Shards, nil
}
