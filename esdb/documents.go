package esdb

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

func joinNames(names []string) string { return strings.Join(names, ",") }

func (b *Backend) IndexDocument(ctx context.Context, req db.IndexRequest) (*db.WriteResponse, error) {
	source := req.Source
	if source == nil {
		source = map[string]any{}
	}
	body, err := encode(source)
	if err != nil {
		return nil, err
	}

	opts := []func(*esapi.IndexRequest){b.client.Index.WithContext(ctx)}
	if req.ID != "" {
		opts = append(opts, b.client.Index.WithDocumentID(req.ID))
	}
	if req.OpType != "" {
		opts = append(opts, b.client.Index.WithOpType(string(req.OpType)))
	}
	if req.IfMatch != nil {
		opts = append(opts,
			b.client.Index.WithIfSeqNo(int(req.IfMatch.SeqNo)),
			b.client.Index.WithIfPrimaryTerm(int(req.IfMatch.PrimaryTerm)),
		)
	}
	if req.Refresh != db.RefreshDefault {
		opts = append(opts, b.client.Index.WithRefresh(string(req.Refresh)))
	}

	res, err := b.client.Index(req.Index, body, opts...)
	var out writeResponse
	if err = b.decode(ctx, "index", req.Index, req.ID, res, err, &out); err != nil {
		if req.OpType == db.OpCreate && db.IsVersionConflict(err) && req.IfMatch == nil {
			return nil, db.Errorf(db.KindAlreadyExists, "index", req.Index, req.ID, "document already exists")
		}
		return nil, err
	}
	return out.response(), nil
}

func (b *Backend) GetDocument(ctx context.Context, index, id string) (*model.Document, error) {
	res, err := b.client.Get(index, id, b.client.Get.WithContext(ctx))
	status, body, err := read(ctx, "get", index, id, res, err)
	if err != nil {
		return nil, err
	}

	var out hit
	if status == http.StatusNotFound {
		// a missing document is reported as found:false, a missing index
		// as an error object
		if json.Unmarshal(body, &out) == nil && out.ID != "" && !out.Found {
			return nil, db.Errorf(db.KindNotFound, "get", index, id, "document not found")
		}
		return nil, responseError("get", index, id, status, body)
	}
	if status >= 300 {
		return nil, responseError("get", index, id, status, body)
	}
	if err = json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decoding get response")
	}
	if !out.Found {
		return nil, db.Errorf(db.KindNotFound, "get", index, id, "document not found")
	}

	doc := out.document()
	return &doc, nil
}

func (b *Backend) DeleteDocument(ctx context.Context, req db.DeleteRequest) (*db.WriteResponse, error) {
	opts := []func(*esapi.DeleteRequest){b.client.Delete.WithContext(ctx)}
	if req.IfMatch != nil {
		opts = append(opts,
			b.client.Delete.WithIfSeqNo(int(req.IfMatch.SeqNo)),
			b.client.Delete.WithIfPrimaryTerm(int(req.IfMatch.PrimaryTerm)),
		)
	}
	if req.Refresh != db.RefreshDefault {
		opts = append(opts, b.client.Delete.WithRefresh(string(req.Refresh)))
	}

	res, err := b.client.Delete(req.Index, req.ID, opts...)
	status, body, err := read(ctx, "delete", req.Index, req.ID, res, err)
	if err != nil {
		return nil, err
	}

	var out writeResponse
	if status == http.StatusNotFound {
		// deleting a missing document is a not_found result, not an error
		if json.Unmarshal(body, &out) == nil && out.Result == db.ResultNotFound {
			return out.response(), nil
		}
		return nil, responseError("delete", req.Index, req.ID, status, body)
	}
	if status >= 300 {
		return nil, responseError("delete", req.Index, req.ID, status, body)
	}
	if err = json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decoding delete response")
	}
	return out.response(), nil
}

func (b *Backend) ScriptUpdate(ctx context.Context, req db.ScriptRequest) (*db.WriteResponse, error) {
	script := map[string]any{
		"source": req.Script.Source,
		"lang":   req.Script.Language(),
	}
	if len(req.Script.Params) > 0 {
		script["params"] = req.Script.Params
	}
	body, err := encode(map[string]any{"script": script})
	if err != nil {
		return nil, err
	}

	opts := []func(*esapi.UpdateRequest){b.client.Update.WithContext(ctx)}
	if req.IfMatch != nil {
		opts = append(opts,
			b.client.Update.WithIfSeqNo(int(req.IfMatch.SeqNo)),
			b.client.Update.WithIfPrimaryTerm(int(req.IfMatch.PrimaryTerm)),
		)
	}
	if req.Refresh != db.RefreshDefault {
		opts = append(opts, b.client.Update.WithRefresh(string(req.Refresh)))
	}

	res, err := b.client.Update(req.Index, req.ID, body, opts...)
	var out writeResponse
	if err = b.decode(ctx, "update", req.Index, req.ID, res, err, &out); err != nil {
		return nil, err
	}
	return out.response(), nil
}
