// Package mdb implements the document index backend on MongoDB. Each
// index is a collection; index definitions, aliases and the revision
// counter live in a shared metadata collection. Scripts run in-process
// through a db.ScriptRegistry.
package mdb

import (
	"context"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	metaCollection = "_docstore_meta"
	primaryTerm    = 1
)

var _ db.Backend = (*Backend)(nil)

// Backend stores documents in MongoDB.
type Backend struct {
	client   *mongo.Client
	database *mongo.Database
	scripts  *db.ScriptRegistry
}

// New connects to the server and checks that it answers.
func New(ctx context.Context, opts Options, scripts *db.ScriptRegistry) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mongodb options")
	}
	if scripts == nil {
		scripts = db.NewScriptRegistry()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI).SetConnectTimeout(opts.connectTimeout()))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, db.NewError(db.KindBackendUnavailable, "connect", "", "", err)
	}

	return &Backend{
		client:   client,
		database: client.Database(opts.Database),
		scripts:  scripts,
	}, nil
}

func (b *Backend) Name() string { return "mongodb" }

func (b *Backend) Close(ctx context.Context) error {
	return errors.Wrap(b.client.Disconnect(ctx), "disconnecting from mongodb")
}

func (b *Backend) meta() *mongo.Collection { return b.database.Collection(metaCollection) }

// record is the stored form of a document.
type record struct {
	ID          string         `bson:"_id"`
	Version     int64          `bson:"version"`
	SeqNo       int64          `bson:"seq_no"`
	PrimaryTerm int64          `bson:"primary_term"`
	Source      map[string]any `bson:"source"`
}

func (r record) revision() model.Revision {
	return model.Revision{SeqNo: r.SeqNo, PrimaryTerm: r.PrimaryTerm}
}

func (r record) document(index string) model.Document {
	source, _ := normalize(r.Source).(map[string]any)
	if source == nil {
		source = map[string]any{}
	}
	return model.Document{
		Index:    index,
		ID:       r.ID,
		Version:  r.Version,
		Revision: r.revision(),
		Source:   source,
	}
}

// normalize converts decoded BSON containers and dates back into the
// plain Go values sources are built from.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case bson.M:
		return normalize(map[string]any(val))
	case bson.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = normalize(elem.Value)
		}
		return out
	case bson.A:
		return normalize([]any(val))
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalize(val[i])
		}
		return out
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

// metaRecord is the stored definition of one index. Field names are
// kept in a list because mapping paths may contain dots.
type metaRecord struct {
	Name     string         `bson:"_id"`
	Settings model.Settings `bson:"settings"`
	Fields   []fieldRecord  `bson:"fields"`
	Aliases  []string       `bson:"aliases"`
	SeqNo    int64          `bson:"seq_no"`
}

type fieldRecord struct {
	Name    string             `bson:"name"`
	Mapping model.FieldMapping `bson:"mapping"`
}

func newMetaRecord(h model.IndexHandle) metaRecord {
	out := metaRecord{
		Name:     h.Name,
		Settings: h.Settings,
		Fields:   fieldRecords(h.Schema),
		Aliases:  append([]string{}, h.Aliases...),
	}
	return out
}

func fieldRecords(schema model.SchemaDescriptor) []fieldRecord {
	out := make([]fieldRecord, 0, len(schema.Fields))
	for name, mapping := range schema.Fields {
		out = append(out, fieldRecord{Name: name, Mapping: mapping})
	}
	return out
}

func (m metaRecord) schema() model.SchemaDescriptor {
	out := model.NewSchema()
	for _, f := range m.Fields {
		out.Fields[f.Name] = f.Mapping
	}
	return out
}

func wrapError(ctx context.Context, op, index, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errors.WithStack(ctx.Err())
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return db.NewError(db.KindBackendUnavailable, op, index, id, err)
	case mongo.IsDuplicateKeyError(err):
		return db.NewError(db.KindAlreadyExists, op, index, id, err)
	default:
		return db.NewError(db.KindUnknown, op, index, id, err)
	}
}

func acknowledged(ok bool) db.AdminAck {
	return db.AdminAck{Acknowledged: ok, ShardsAcknowledged: ok}
}

// shards reports a single copy, confirmed when the server acknowledged
// the write.
func shards(ok bool) db.ShardStats {
	if ok {
		return db.ShardStats{Total: 1, Successful: 1}
	}
	return db.ShardStats{Total: 1, Failed: 1}
}
