package esdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeCluster answers the REST calls the backend makes for a single
// index named "people".
type fakeCluster struct {
	mu       sync.Mutex
	exists   bool
	docs     map[string]map[string]any
	seqNos   map[string]int64
	versions map[string]int64
	seqNo    int64
	scroll   []string
	requests []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		docs:     map[string]map[string]any{},
		seqNos:   map[string]int64{},
		versions: map[string]int64{},
	}
}

func (f *fakeCluster) RoundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	status, body := f.route(r)
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
		Request:    r,
	}
	resp.Header.Set("X-Elastic-Product", "Elasticsearch")
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

const indexMissing = `{"error":{"type":"index_not_found_exception","reason":"no such index [people]"},"status":404}`

func (f *fakeCluster) route(r *http.Request) (int, string) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case parts[0] == "_search" && len(parts) > 1 && r.Method == http.MethodDelete:
		return http.StatusOK, `{"succeeded":true,"num_freed":1}`
	case parts[0] == "_search" && len(parts) > 1:
		return f.nextPage()
	case parts[0] != "people":
		return http.StatusNotFound, strings.ReplaceAll(indexMissing, "people", parts[0])
	case len(parts) == 1 && r.Method == http.MethodPut:
		if f.exists {
			return http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception","reason":"index [people] already exists"},"status":400}`
		}
		f.exists = true
		return http.StatusOK, `{"acknowledged":true,"shards_acknowledged":true,"index":"people"}`
	case len(parts) == 1 && r.Method == http.MethodHead:
		if f.exists {
			return http.StatusOK, ""
		}
		return http.StatusNotFound, ""
	case !f.exists:
		return http.StatusNotFound, indexMissing
	case parts[1] == "_doc" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		id := fmt.Sprintf("generated-%d", f.seqNo+1)
		if len(parts) > 2 {
			id = parts[2]
		}
		return f.write(r, id)
	case parts[1] == "_doc" && r.Method == http.MethodGet:
		return f.get(parts[2])
	case parts[1] == "_doc" && r.Method == http.MethodDelete:
		return f.remove(r, parts[2])
	case parts[1] == "_mapping" && r.Method == http.MethodGet:
		return http.StatusOK, `{"people":{"mappings":{"properties":{"name":{"type":"text"},"author":{"properties":{"born":{"type":"date","format":"yyyy"}}}}}}}`
	case parts[1] == "_mapping":
		return http.StatusBadRequest, `{"error":{"type":"illegal_argument_exception","reason":"mapper [name] cannot be changed from type [text] to [long]"},"status":400}`
	case parts[1] == "_settings" && r.Method == http.MethodGet:
		return http.StatusOK, `{"people":{"settings":{"index":{"number_of_shards":"3","number_of_replicas":"1","refresh_interval":"1s"}}}}`
	case parts[1] == "_search":
		return f.firstPage(r)
	case parts[1] == "_refresh":
		return http.StatusOK, `{"_shards":{"total":2,"successful":1,"failed":0}}`
	}
	return http.StatusBadRequest, `{"error":{"type":"unsupported","reason":"unexpected request"},"status":400}`
}

func (f *fakeCluster) conflict(r *http.Request, id string) bool {
	ifSeqNo := r.URL.Query().Get("if_seq_no")
	if ifSeqNo == "" {
		return false
	}
	return ifSeqNo != fmt.Sprint(f.seqNos[id])
}

func (f *fakeCluster) write(r *http.Request, id string) (int, string) {
	_, exists := f.docs[id]
	if r.URL.Query().Get("op_type") == "create" && exists {
		return http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception","reason":"[` + id + `]: version conflict, document already exists (current version [1])"},"status":409}`
	}
	if f.conflict(r, id) {
		return http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception","reason":"version conflict"},"status":409}`
	}

	var source map[string]any
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		return http.StatusBadRequest, `{"error":"bad body","status":400}`
	}
	f.seqNo++
	f.docs[id] = source
	f.seqNos[id] = f.seqNo
	f.versions[id]++

	result := "created"
	status := http.StatusCreated
	if exists {
		result = "updated"
		status = http.StatusOK
	}
	return status, fmt.Sprintf(`{"_index":"people","_id":%q,"_version":%d,"result":%q,"_shards":{"total":2,"successful":1,"failed":0},"_seq_no":%d,"_primary_term":1}`,
		id, f.versions[id], result, f.seqNo)
}

func (f *fakeCluster) hit(id string) string {
	source, _ := json.Marshal(f.docs[id])
	return fmt.Sprintf(`{"_index":"people","_id":%q,"_version":%d,"_seq_no":%d,"_primary_term":1,"found":true,"_source":%s}`,
		id, f.versions[id], f.seqNos[id], source)
}

func (f *fakeCluster) get(id string) (int, string) {
	if _, ok := f.docs[id]; !ok {
		return http.StatusNotFound, fmt.Sprintf(`{"_index":"people","_id":%q,"found":false}`, id)
	}
	return http.StatusOK, f.hit(id)
}

func (f *fakeCluster) remove(r *http.Request, id string) (int, string) {
	if f.conflict(r, id) {
		return http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception","reason":"version conflict"},"status":409}`
	}
	if _, ok := f.docs[id]; !ok {
		return http.StatusNotFound, fmt.Sprintf(`{"_index":"people","_id":%q,"_version":1,"result":"not_found","_shards":{"total":2,"successful":2,"failed":0},"_seq_no":%d,"_primary_term":1}`, id, f.seqNo)
	}
	f.seqNo++
	f.versions[id]++
	delete(f.docs, id)
	return http.StatusOK, fmt.Sprintf(`{"_index":"people","_id":%q,"_version":%d,"result":"deleted","_shards":{"total":2,"successful":2,"failed":0},"_seq_no":%d,"_primary_term":1}`,
		id, f.versions[id], f.seqNo)
}

func (f *fakeCluster) firstPage(r *http.Request) (int, string) {
	size := 10
	fmt.Sscan(r.URL.Query().Get("size"), &size)
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	f.scroll = nil
	for len(ids) > 0 {
		n := min(size, len(ids))
		f.scroll = append(f.scroll, strings.Join(ids[:n], ","))
		ids = ids[n:]
	}
	total := len(f.docs)
	_, body := f.nextPage()
	return http.StatusOK, strings.Replace(body, `"total":{"value":0}`, fmt.Sprintf(`"total":{"value":%d}`, total), 1)
}

func (f *fakeCluster) nextPage() (int, string) {
	var hits []string
	if len(f.scroll) > 0 {
		for _, id := range strings.Split(f.scroll[0], ",") {
			hits = append(hits, f.hit(id))
		}
		f.scroll = f.scroll[1:]
	}
	return http.StatusOK, `{"_scroll_id":"scroll-1","hits":{"total":{"value":0},"hits":[` + strings.Join(hits, ",") + `]}}`
}

type BackendSuite struct {
	cluster *fakeCluster
	backend *Backend
	ctx     context.Context
	cancel  context.CancelFunc
	suite.Suite
}

func TestBackendSuite(t *testing.T) {
	suite.Run(t, new(BackendSuite))
}

func (s *BackendSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cluster = newFakeCluster()

	var err error
	s.backend, err = New(Options{Addresses: []string{"http://fake:9200"}, Transport: s.cluster})
	s.Require().NoError(err)
	_, err = s.backend.CreateIndex(s.ctx, model.NewIndexHandle("people", 3, 1))
	s.Require().NoError(err)
}

func (s *BackendSuite) TearDownTest() {
	s.cancel()
	s.NoError(s.backend.Close(s.ctx))
}

func (s *BackendSuite) put(id string, source map[string]any) *db.WriteResponse {
	resp, err := s.backend.IndexDocument(s.ctx, db.IndexRequest{Index: "people", ID: id, Source: source})
	s.Require().NoError(err)
	return resp
}

func (s *BackendSuite) TestIndexAdmin() {
	_, err := s.backend.CreateIndex(s.ctx, model.NewIndexHandle("people", 3, 1))
	s.True(db.IsAlreadyExists(err))

	exists, err := s.backend.IndexExists(s.ctx, "people")
	s.NoError(err)
	s.True(exists)
	exists, err = s.backend.IndexExists(s.ctx, "places")
	s.NoError(err)
	s.False(exists)

	schema, err := s.backend.GetMapping(s.ctx, "people")
	s.Require().NoError(err)
	born, ok := schema.Field("author.born")
	s.Require().True(ok)
	s.Equal(model.TypeDate, born.Type)
	s.Equal("yyyy", born.Format)
	name, ok := schema.Field("name")
	s.Require().True(ok)
	s.True(name.Analyzed)

	_, err = s.backend.PutMapping(s.ctx, "people", model.NewSchema().With("name", model.Field(model.TypeLong)))
	s.True(db.IsMappingConflict(err))

	settings, err := s.backend.GetSettings(s.ctx, "people")
	s.Require().NoError(err)
	s.Equal(model.Settings{ShardCount: 3, ReplicaCount: 1, RefreshInterval: "1s"}, settings["people"])

	calls := len(s.cluster.requests)
	shards := 5
	_, err = s.backend.UpdateSettings(s.ctx, []string{"people"}, model.SettingsDelta{ShardCount: &shards})
	s.Equal(db.KindImmutableSetting, db.KindOf(err))
	s.Len(s.cluster.requests, calls)

	stats, err := s.backend.Refresh(s.ctx, "people")
	s.NoError(err)
	s.Equal(db.ShardStats{Total: 2, Successful: 1}, stats)
}

func (s *BackendSuite) TestDocumentLifecycle() {
	created := s.put("1", map[string]any{"name": "ada"})
	s.Equal(db.ResultCreated, created.Result)
	s.EqualValues(1, created.Version)
	s.Equal(db.ShardStats{Total: 2, Successful: 1}, created.Shards)

	doc, err := s.backend.GetDocument(s.ctx, "people", "1")
	s.Require().NoError(err)
	s.Equal("ada", doc.Source["name"])
	s.Equal(created.Revision, doc.Revision)

	_, err = s.backend.IndexDocument(s.ctx, db.IndexRequest{Index: "people", ID: "1", OpType: db.OpCreate, Source: map[string]any{}})
	s.True(db.IsAlreadyExists(err))

	stale := model.Revision{SeqNo: created.Revision.SeqNo + 10, PrimaryTerm: 1}
	_, err = s.backend.IndexDocument(s.ctx, db.IndexRequest{Index: "people", ID: "1", IfMatch: &stale, Source: map[string]any{}})
	s.True(db.IsVersionConflict(err))

	updated, err := s.backend.IndexDocument(s.ctx, db.IndexRequest{Index: "people", ID: "1", IfMatch: &created.Revision, Source: map[string]any{"name": "grace"}})
	s.Require().NoError(err)
	s.Equal(db.ResultUpdated, updated.Result)
	s.EqualValues(2, updated.Version)

	deleted, err := s.backend.DeleteDocument(s.ctx, db.DeleteRequest{Index: "people", ID: "1"})
	s.Require().NoError(err)
	s.Equal(db.ResultDeleted, deleted.Result)

	again, err := s.backend.DeleteDocument(s.ctx, db.DeleteRequest{Index: "people", ID: "1"})
	s.Require().NoError(err)
	s.Equal(db.ResultNotFound, again.Result)

	_, err = s.backend.GetDocument(s.ctx, "people", "1")
	s.True(db.ResultsNotFound(err))
	s.False(db.IndexNotFound(err))

	_, err = s.backend.GetDocument(s.ctx, "places", "1")
	s.True(db.IndexNotFound(err))
}

func (s *BackendSuite) TestGeneratedID() {
	resp, err := s.backend.IndexDocument(s.ctx, db.IndexRequest{Index: "people", OpType: db.OpCreate, Source: map[string]any{"name": "ada"}})
	s.Require().NoError(err)
	s.NotEmpty(resp.ID)
	s.Contains(s.cluster.requests, "POST /people/_doc")
}

func (s *BackendSuite) TestScan() {
	for i := 0; i < 7; i++ {
		s.put(fmt.Sprint(i), map[string]any{"n": i})
	}

	cursor, err := s.backend.OpenScan(s.ctx, db.ScanRequest{Indices: []string{"people"}, Query: model.MatchAll(), BatchSize: 3, KeepAlive: time.Minute})
	s.Require().NoError(err)
	s.Equal(7, cursor.Total())

	seen := map[string]bool{}
	batches := 0
	for {
		batch, err := cursor.Next(s.ctx)
		s.Require().NoError(err)
		if len(batch) == 0 {
			break
		}
		batches++
		for _, doc := range batch {
			s.False(doc.Revision.IsZero())
			seen[doc.ID] = true
		}
	}
	s.Equal(3, batches)
	s.Len(seen, 7)
	s.NoError(cursor.Close(s.ctx))
	s.Contains(s.cluster.requests, "DELETE /_search/scroll")
}

func TestMappingConversion(t *testing.T) {
	schema := model.NewSchema().
		With("name", model.Field(model.TypeText)).
		With("author", model.Object(map[string]model.FieldMapping{
			"born": model.DateField("yyyy-MM-dd"),
		}))

	out := fromMappings(toMappings(schema))
	require.NoError(t, out.Validate())
	assert.Equal(t, schema.Names(), out.Names())

	born, ok := out.Field("author.born")
	require.True(t, ok)
	assert.Equal(t, "yyyy-MM-dd", born.Format)
}
