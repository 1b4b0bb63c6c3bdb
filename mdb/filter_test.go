package mdb

import (
	"testing"

	"github.com/mongodb/docstore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFilter(t *testing.T) {
	for name, test := range map[string]struct {
		query    model.Query
		expected bson.M
	}{
		"Nil":      {query: nil, expected: bson.M{}},
		"MatchAll": {query: model.MatchAll(), expected: bson.M{}},
		"Term": {
			query:    model.Term("status", "stale"),
			expected: bson.M{"source.status": "stale"},
		},
		"TermOnID": {
			query:    model.Term("_id", "1"),
			expected: bson.M{"_id": "1"},
		},
		"Terms": {
			query:    model.Terms("tags", "a", "b"),
			expected: bson.M{"source.tags": bson.M{"$in": []any{"a", "b"}}},
		},
		"Exists": {
			query:    model.Exists("author.name"),
			expected: bson.M{"source.author.name": bson.M{"$exists": true, "$ne": nil}},
		},
		"IDs": {
			query:    model.IDs("1", "2"),
			expected: bson.M{"_id": bson.M{"$in": []any{"1", "2"}}},
		},
		"Range": {
			query:    model.Range("age", map[string]any{"gte": 18, "lt": 65}),
			expected: bson.M{"source.age": bson.M{"$gte": 18, "$lt": 65}},
		},
		"MatchNumber": {
			query:    model.Match("count", 3),
			expected: bson.M{"source.count": 3},
		},
		"MatchText": {
			query:    model.Match("title", "quick fox"),
			expected: bson.M{"source.title": bson.M{"$regex": `(^|\s)(quick|fox)(\s|$)`, "$options": "i"}},
		},
		"Bool": {
			query: model.Bool(
				[]model.Query{model.Term("status", "stale")},
				nil,
				[]model.Query{model.Term("owner", "ada")},
				[]model.Query{model.Exists("archived")},
			),
			expected: bson.M{
				"$and": bson.A{bson.M{"source.status": "stale"}},
				"$nor": bson.A{bson.M{"source.archived": bson.M{"$exists": true, "$ne": nil}}},
			},
		},
		"BoolShouldOnly": {
			query: model.Bool(nil, nil, []model.Query{model.Term("a", 1), model.Term("b", 2)}, nil),
			expected: bson.M{
				"$or": bson.A{bson.M{"source.a": 1}, bson.M{"source.b": 2}},
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Filter(test.query)
			require.NoError(t, err)
			assert.Equal(t, test.expected, out)
		})
	}
}

func TestFilterErrors(t *testing.T) {
	for name, query := range map[string]model.Query{
		"TwoClauses":      {"term": map[string]any{"a": 1}, "exists": map[string]any{"field": "b"}},
		"Unsupported":     {"fuzzy": map[string]any{"a": "b"}},
		"MalformedClause": {"term": "a"},
		"TermsNotList":    {"terms": map[string]any{"a": "b"}},
		"RangeOperator":   model.Range("age", map[string]any{"near": 3}),
		"EmptyExists":     {"exists": map[string]any{}},
		"BoolNotList":     {"bool": map[string]any{"must": "x"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Filter(query)
			assert.Error(t, err)
		})
	}
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"nested": bson.M{"list": bson.A{bson.D{{Key: "k", Value: "v"}}}},
	}
	out := normalize(in)
	assert.Equal(t, map[string]any{
		"nested": map[string]any{"list": []any{map[string]any{"k": "v"}}},
	}, out)
}
