// Package esdb implements the document index backend on top of an
// Elasticsearch cluster using the official client.
package esdb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

var _ db.Backend = (*Backend)(nil)

// Backend talks to Elasticsearch over its REST API. It is safe for
// concurrent use; the underlying client pools connections.
type Backend struct {
	client *elasticsearch.Client
}

// New validates the options and builds a client. It does not contact
// the cluster.
func New(opts Options) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid elasticsearch options")
	}
	client, err := elasticsearch.NewClient(opts.config())
	if err != nil {
		return nil, errors.Wrap(err, "building elasticsearch client")
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Name() string { return "elasticsearch" }

// Close is a no-op: the client holds no resources beyond idle
// connections.
func (b *Backend) Close(_ context.Context) error { return nil }

// Ping checks that the cluster answers.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := b.client.Ping(b.client.Ping.WithContext(ctx))
	return b.decode(ctx, "ping", "", "", res, err, nil)
}

// read returns the status and body of a response, turning transport
// failures into BackendUnavailable errors.
func read(ctx context.Context, op, index, id string, res *esapi.Response, err error) (int, []byte, error) {
	if err != nil {
		return 0, nil, transportError(ctx, op, index, id, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, transportError(ctx, op, index, id, err)
	}
	return res.StatusCode, body, nil
}

// decode reads the response and unmarshals a successful body into out.
func (b *Backend) decode(ctx context.Context, op, index, id string, res *esapi.Response, err error, out any) error {
	status, body, err := read(ctx, op, index, id, res, err)
	if err != nil {
		return err
	}
	if status >= 300 {
		return responseError(op, index, id, status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(body, out), "decoding %s response", op)
}

func encode(body any) (io.Reader, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request body")
	}
	return bytes.NewReader(payload), nil
}

type ackResponse struct {
	Acknowledged       bool  `json:"acknowledged"`
	ShardsAcknowledged *bool `json:"shards_acknowledged"`
}

func (r ackResponse) ack() db.AdminAck {
	out := db.AdminAck{Acknowledged: r.Acknowledged, ShardsAcknowledged: r.Acknowledged}
	if r.ShardsAcknowledged != nil {
		out.ShardsAcknowledged = *r.ShardsAcknowledged
	}
	return out
}

type writeResponse struct {
	Index       string        `json:"_index"`
	ID          string        `json:"_id"`
	Version     int64         `json:"_version"`
	Result      db.Result     `json:"result"`
	SeqNo       int64         `json:"_seq_no"`
	PrimaryTerm int64         `json:"_primary_term"`
	Shards      db.ShardStats `json:"_shards"`
}

func (r writeResponse) response() *db.WriteResponse {
	return &db.WriteResponse{
		Index:    r.Index,
		ID:       r.ID,
		Version:  r.Version,
		Revision: model.Revision{SeqNo: r.SeqNo, PrimaryTerm: r.PrimaryTerm},
		Result:   r.Result,
		Shards:   r.Shards,
	}
}

type hit struct {
	Index       string         `json:"_index"`
	ID          string         `json:"_id"`
	Version     int64          `json:"_version"`
	SeqNo       int64          `json:"_seq_no"`
	PrimaryTerm int64          `json:"_primary_term"`
	Found       bool           `json:"found"`
	Source      map[string]any `json:"_source"`
}

func (h hit) document() model.Document {
	source := h.Source
	if source == nil {
		source = map[string]any{}
	}
	return model.Document{
		Index:    h.Index,
		ID:       h.ID,
		Version:  h.Version,
		Revision: model.Revision{SeqNo: h.SeqNo, PrimaryTerm: h.PrimaryTerm},
		Source:   source,
	}
}
