// Package mock contains an in-memory implementation of the db.Backend
// interface, with hooks for injecting failures and concurrent writers.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

// Cluster is a single-process stand-in for a document index cluster.
// Exported fields configure failure injection and may be changed
// between calls with the setter methods.
type Cluster struct {
	Indices map[string]*Index
	Scripts *db.ScriptRegistry

	// Calls counts requests per operation name.
	Calls map[string]int
	// Faults forces an operation to fail with the given error.
	Faults map[string]error
	// ShardFailures is the number of shard copies reported as failed
	// on every document write.
	ShardFailures int
	// Unacknowledged makes every cluster-state change report
	// acknowledged=false.
	Unacknowledged bool
	// OnGet runs after every document read, outside the lock, so it
	// may write to the cluster to simulate a concurrent writer.
	OnGet func(index, id string)

	closed bool
	mu     sync.Mutex
}

// Index is the stored state of one index.
type Index struct {
	Handle model.IndexHandle
	Docs   map[string]*model.Document
	seqNo  int64
}

func NewCluster() *Cluster {
	return &Cluster{
		Indices: map[string]*Index{},
		Scripts: db.NewScriptRegistry(),
		Calls:   map[string]int{},
		Faults:  map[string]error{},
	}
}

func (c *Cluster) Name() string { return "memory" }

func (c *Cluster) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SetFault makes op fail with err until cleared with a nil error.
func (c *Cluster) SetFault(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.Faults, op)
		return
	}
	c.Faults[op] = err
}

// SetShardFailures changes the failed shard count of later writes.
func (c *Cluster) SetShardFailures(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShardFailures = n
}

// SetOnGet installs the read hook.
func (c *Cluster) SetOnGet(fn func(index, id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OnGet = fn
}

// CallCount returns how many times op was requested.
func (c *Cluster) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[op]
}

// DocumentCount returns the number of documents stored in an index.
func (c *Cluster) DocumentCount(index string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.Indices[index]; ok {
		return len(idx.Docs)
	}
	return 0
}

// begin records the call and returns any injected failure. Callers
// hold the lock.
func (c *Cluster) begin(ctx context.Context, op string) error {
	c.Calls[op]++
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if c.closed {
		return db.Errorf(db.KindBackendUnavailable, op, "", "", "cluster is closed")
	}
	if err := c.Faults[op]; err != nil {
		return err
	}
	return nil
}

func (c *Cluster) adminAck() db.AdminAck {
	if c.Unacknowledged {
		return db.AdminAck{}
	}
	return db.Acked()
}

// resolve expands index and alias names. An empty list means every
// index. Missing names fail with an index level NotFound.
func (c *Cluster) resolve(op string, names []string) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, 0, len(c.Indices))
		for name := range c.Indices {
			out = append(out, name)
		}
		sort.Strings(out)
		return out, nil
	}

	seen := map[string]struct{}{}
	out := []string{}
	for _, name := range names {
		targets := c.lookup(name)
		if len(targets) == 0 {
			return nil, db.Errorf(db.KindNotFound, op, name, "", "no such index [%s]", name)
		}
		for _, t := range targets {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Cluster) lookup(name string) []string {
	if _, ok := c.Indices[name]; ok {
		return []string{name}
	}
	var out []string
	for idxName, idx := range c.Indices {
		for _, alias := range idx.Handle.Aliases {
			if alias == name {
				out = append(out, idxName)
			}
		}
	}
	sort.Strings(out)
	return out
}

// index returns the single concrete index behind name. Aliases that
// point at more than one index cannot be written through.
func (c *Cluster) index(op, name string) (*Index, error) {
	targets := c.lookup(name)
	switch len(targets) {
	case 0:
		return nil, db.Errorf(db.KindNotFound, op, name, "", "no such index [%s]", name)
	case 1:
		return c.Indices[targets[0]], nil
	default:
		return nil, db.Errorf(db.KindInvalidRequest, op, name, "", "alias [%s] has more than one index associated with it", name)
	}
}

func (c *Cluster) CreateIndex(ctx context.Context, handle model.IndexHandle) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "create_index"); err != nil {
		return db.AdminAck{}, err
	}
	if err := handle.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "create_index", handle.Name, "", err)
	}
	if _, ok := c.Indices[handle.Name]; ok {
		return db.AdminAck{}, db.Errorf(db.KindAlreadyExists, "create_index", handle.Name, "", "index [%s] already exists", handle.Name)
	}
	if len(c.lookup(handle.Name)) > 0 {
		return db.AdminAck{}, db.Errorf(db.KindInvalidRequest, "create_index", handle.Name, "", "an alias named [%s] already exists", handle.Name)
	}

	stored := handle
	stored.Schema = handle.Schema.Clone()
	stored.Aliases = append([]string(nil), handle.Aliases...)
	c.Indices[handle.Name] = &Index{Handle: stored, Docs: map[string]*model.Document{}}

	return c.adminAck(), nil
}

func (c *Cluster) DeleteIndex(ctx context.Context, name string) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "delete_index"); err != nil {
		return db.AdminAck{}, err
	}
	if _, ok := c.Indices[name]; !ok {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "delete_index", name, "", "no such index [%s]", name)
	}
	delete(c.Indices, name)

	return c.adminAck(), nil
}

func (c *Cluster) IndexExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "index_exists"); err != nil {
		return false, err
	}
	return len(c.lookup(name)) > 0, nil
}

func (c *Cluster) GetMapping(ctx context.Context, name string) (model.SchemaDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "get_mapping"); err != nil {
		return model.SchemaDescriptor{}, err
	}
	idx, err := c.index("get_mapping", name)
	if err != nil {
		return model.SchemaDescriptor{}, err
	}
	return idx.Handle.Schema.Clone(), nil
}

func (c *Cluster) PutMapping(ctx context.Context, name string, schema model.SchemaDescriptor) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "put_mapping"); err != nil {
		return db.AdminAck{}, err
	}
	idx, err := c.index("put_mapping", name)
	if err != nil {
		return db.AdminAck{}, err
	}
	if err = schema.Validate(); err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "put_mapping", name, "", err)
	}

	merged, conflicts, err := idx.Handle.Schema.MergeAdditive(schema)
	if len(conflicts) > 0 {
		return db.AdminAck{}, db.NewError(db.KindMappingConflict, "put_mapping", name, "", err)
	}
	if err != nil {
		return db.AdminAck{}, db.NewError(db.KindInvalidSchema, "put_mapping", name, "", err)
	}
	idx.Handle.Schema = merged

	return c.adminAck(), nil
}

func (c *Cluster) GetSettings(ctx context.Context, names ...string) (map[string]model.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "get_settings"); err != nil {
		return nil, err
	}

	out := map[string]model.Settings{}
	if len(names) == 0 {
		for name, idx := range c.Indices {
			out[name] = idx.Handle.Settings
		}
		return out, nil
	}
	for _, name := range names {
		for _, target := range c.lookup(name) {
			out[target] = c.Indices[target].Handle.Settings
		}
	}
	return out, nil
}

func (c *Cluster) UpdateSettings(ctx context.Context, names []string, delta model.SettingsDelta) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "update_settings"); err != nil {
		return db.AdminAck{}, err
	}
	if delta.ShardCount != nil {
		return db.AdminAck{}, db.Errorf(db.KindImmutableSetting, "update_settings", "", "", "final setting [index.number_of_shards] cannot be updated")
	}
	targets, err := c.resolve("update_settings", names)
	if err != nil {
		return db.AdminAck{}, err
	}

	updated := make(map[string]model.Settings, len(targets))
	for _, name := range targets {
		next := c.Indices[name].Handle.Settings.Apply(delta)
		if err = next.Validate(); err != nil {
			return db.AdminAck{}, db.NewError(db.KindInvalidRequest, "update_settings", name, "", err)
		}
		updated[name] = next
	}
	for name, settings := range updated {
		c.Indices[name].Handle.Settings = settings
	}

	return c.adminAck(), nil
}

func (c *Cluster) GetAliases(ctx context.Context, name string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "get_aliases"); err != nil {
		return nil, err
	}
	idx, ok := c.Indices[name]
	if !ok {
		return nil, db.Errorf(db.KindNotFound, "get_aliases", name, "", "no such index [%s]", name)
	}
	out := append([]string{}, idx.Handle.Aliases...)
	sort.Strings(out)
	return out, nil
}

func (c *Cluster) AddAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "add_alias"); err != nil {
		return db.AdminAck{}, err
	}
	idx, ok := c.Indices[index]
	if !ok {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "add_alias", index, "", "no such index [%s]", index)
	}
	if _, ok = c.Indices[alias]; ok {
		return db.AdminAck{}, db.Errorf(db.KindInvalidRequest, "add_alias", index, "", "an index named [%s] already exists", alias)
	}
	for _, existing := range idx.Handle.Aliases {
		if existing == alias {
			return c.adminAck(), nil
		}
	}
	idx.Handle.Aliases = append(idx.Handle.Aliases, alias)

	return c.adminAck(), nil
}

func (c *Cluster) RemoveAlias(ctx context.Context, index, alias string) (db.AdminAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "remove_alias"); err != nil {
		return db.AdminAck{}, err
	}
	idx, ok := c.Indices[index]
	if !ok {
		return db.AdminAck{}, db.Errorf(db.KindNotFound, "remove_alias", index, "", "no such index [%s]", index)
	}
	for i, existing := range idx.Handle.Aliases {
		if existing == alias {
			idx.Handle.Aliases = append(idx.Handle.Aliases[:i], idx.Handle.Aliases[i+1:]...)
			return c.adminAck(), nil
		}
	}

	return db.AdminAck{}, db.Errorf(db.KindNotFound, "remove_alias", index, "", "aliases [%s] missing", alias)
}

func (c *Cluster) Refresh(ctx context.Context, names ...string) (db.ShardStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(ctx, "refresh"); err != nil {
		return db.ShardStats{}, err
	}
	targets, err := c.resolve("refresh", names)
	if err != nil {
		return db.ShardStats{}, err
	}

	copies := 0
	for _, name := range targets {
		settings := c.Indices[name].Handle.Settings
		copies += settings.ShardCount * (1 + settings.ReplicaCount)
	}
	return c.shards(copies), nil
}
