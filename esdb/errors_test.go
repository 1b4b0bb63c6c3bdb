package esdb

import (
	"net/http"
	"testing"

	"github.com/mongodb/docstore/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseError(t *testing.T) {
	for name, test := range map[string]struct {
		status     int
		body       string
		kind       db.Kind
		indexLevel bool
	}{
		"IndexNotFound": {
			status:     http.StatusNotFound,
			body:       `{"error":{"type":"index_not_found_exception","reason":"no such index [people]"},"status":404}`,
			kind:       db.KindNotFound,
			indexLevel: true,
		},
		"DocumentMissing": {
			status: http.StatusNotFound,
			body:   `{"error":{"type":"document_missing_exception","reason":"[1]: document missing"},"status":404}`,
			kind:   db.KindNotFound,
		},
		"ScrollExpired": {
			status:     http.StatusNotFound,
			body:       `{"error":{"root_cause":[{"type":"search_context_missing_exception","reason":"No search context found"}],"type":"search_phase_execution_exception"},"status":404}`,
			kind:       db.KindNotFound,
			indexLevel: true,
		},
		"AliasMissingAsString": {
			status: http.StatusNotFound,
			body:   `{"error":"aliases [old] missing","status":404}`,
			kind:   db.KindNotFound,
		},
		"IndexExists": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"resource_already_exists_exception","reason":"index [people/abc] already exists"},"status":400}`,
			kind:   db.KindAlreadyExists,
		},
		"VersionConflict": {
			status: http.StatusConflict,
			body:   `{"error":{"type":"version_conflict_engine_exception","reason":"[1]: version conflict, required seqNo [3], primary term [1]. current document has seqNo [4] and primary term [1]"},"status":409}`,
			kind:   db.KindVersionConflict,
		},
		"CreateConflict": {
			status: http.StatusConflict,
			body:   `{"error":{"type":"version_conflict_engine_exception","reason":"[1]: version conflict, document already exists (current version [1])"},"status":409}`,
			kind:   db.KindAlreadyExists,
		},
		"MappingConflict": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"illegal_argument_exception","reason":"mapper [age] cannot be changed from type [long] to [text]"},"status":400}`,
			kind:   db.KindMappingConflict,
		},
		"ImmutableSetting": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"illegal_argument_exception","reason":"Can't update non dynamic settings [[index.number_of_shards]] for open indices [[people]]"},"status":400}`,
			kind:   db.KindImmutableSetting,
		},
		"ScriptFailure": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"illegal_argument_exception","reason":"failed to execute script","caused_by":{"type":"script_exception","reason":"compile error"}},"status":400}`,
			kind:   db.KindScriptFailure,
		},
		"InvalidSchema": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"mapper_parsing_exception","reason":"No handler for type [bogus] declared on field [x]"},"status":400}`,
			kind:   db.KindInvalidSchema,
		},
		"Overloaded": {
			status: http.StatusTooManyRequests,
			body:   `{"error":{"type":"es_rejected_execution_exception","reason":"rejected execution"},"status":429}`,
			kind:   db.KindBackendUnavailable,
		},
		"ServerError": {
			status: http.StatusServiceUnavailable,
			body:   `not json`,
			kind:   db.KindBackendUnavailable,
		},
		"BadRequest": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"parsing_exception","reason":"unknown query [bogus]"},"status":400}`,
			kind:   db.KindInvalidRequest,
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := responseError("op", "people", "1", test.status, []byte(test.body))
			require.Error(t, err)
			assert.Equal(t, test.kind, db.KindOf(err))
			assert.Equal(t, test.indexLevel, db.IndexNotFound(err))
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	for name, test := range map[string]struct {
		opts  Options
		valid bool
	}{
		"Addresses": {opts: Options{Addresses: []string{"http://localhost:9200"}}, valid: true},
		"CloudID":   {opts: Options{CloudID: "cluster:abc"}, valid: true},
		"Empty":     {opts: Options{}},
		"Both":      {opts: Options{Addresses: []string{"http://localhost:9200"}, CloudID: "cluster:abc"}},
		"NoPassword": {
			opts: Options{Addresses: []string{"http://localhost:9200"}, Username: "elastic"},
		},
		"NegativeRetries": {opts: Options{Addresses: []string{"http://localhost:9200"}, MaxRetries: -1}},
	} {
		t.Run(name, func(t *testing.T) {
			if test.valid {
				assert.NoError(t, test.opts.Validate())
			} else {
				assert.Error(t, test.opts.Validate())
			}
		})
	}
}
