package mock

import (
	"testing"

	"github.com/mongodb/docstore/model"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	doc := &model.Document{
		Index: "people",
		ID:    "kay",
		Source: map[string]any{
			"name":    "Kay Lee",
			"age":     40,
			"tags":    []any{"admin", "ops"},
			"address": map[string]any{"city": "nyc", "zip": "10001"},
			"score":   7.5,
		},
	}

	for _, test := range []struct {
		name    string
		query   model.Query
		matches bool
	}{
		{name: "Nil", query: nil, matches: true},
		{name: "MatchAll", query: model.MatchAll(), matches: true},
		{name: "Term", query: model.Term("address.city", "nyc"), matches: true},
		{name: "TermMiss", query: model.Term("address.city", "sf")},
		{name: "TermNumberTypes", query: model.Term("age", 40.0), matches: true},
		{name: "TermArrayElement", query: model.Term("tags", "ops"), matches: true},
		{name: "TermID", query: model.Term("_id", "kay"), matches: true},
		{name: "Terms", query: model.Terms("address.city", "sf", "nyc"), matches: true},
		{name: "TermsMiss", query: model.Terms("age", 1, 2)},
		{name: "Match", query: model.Match("name", "lee"), matches: true},
		{name: "MatchAnyToken", query: model.Match("name", "bob kay"), matches: true},
		{name: "MatchMiss", query: model.Match("name", "bob")},
		{name: "Exists", query: model.Exists("address.zip"), matches: true},
		{name: "ExistsMiss", query: model.Exists("address.geo")},
		{name: "IDs", query: model.IDs("lee", "kay"), matches: true},
		{name: "IDsMiss", query: model.IDs("lee")},
		{name: "Range", query: model.Range("age", map[string]any{"gte": 40, "lt": 50}), matches: true},
		{name: "RangeExclusive", query: model.Range("age", map[string]any{"gt": 40})},
		{name: "RangeFloat", query: model.Range("score", map[string]any{"lte": 7.5}), matches: true},
		{name: "RangeString", query: model.Range("address.zip", map[string]any{"gte": "10000", "lte": "10999"}), matches: true},
		{name: "RangeTypeMismatch", query: model.Range("address.city", map[string]any{"gt": 1})},
		{
			name:    "BoolMustAndNot",
			query:   model.Bool([]model.Query{model.Term("age", 40)}, nil, nil, []model.Query{model.Term("tags", "guest")}),
			matches: true,
		},
		{
			name:  "BoolMustNot",
			query: model.Bool(nil, nil, nil, []model.Query{model.Term("tags", "admin")}),
		},
		{
			name:    "BoolShould",
			query:   model.Bool(nil, nil, []model.Query{model.Term("age", 1), model.Term("age", 40)}, nil),
			matches: true,
		},
		{
			name:  "BoolShouldMiss",
			query: model.Bool(nil, nil, []model.Query{model.Term("age", 1)}, nil),
		},
		{
			name:    "BoolShouldOptionalWithFilter",
			query:   model.Bool(nil, []model.Query{model.Exists("name")}, []model.Query{model.Term("age", 1)}, nil),
			matches: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			ok, err := Matches(test.query, doc)
			assert.NoError(t, err)
			assert.Equal(t, test.matches, ok)
		})
	}
}

func TestMatchesErrors(t *testing.T) {
	doc := &model.Document{ID: "1", Source: map[string]any{"a": 1}}
	for name, q := range map[string]model.Query{
		"TwoClauses":    {"term": map[string]any{"a": 1}, "exists": map[string]any{"field": "a"}},
		"Unsupported":   {"fuzzy": map[string]any{"a": 1}},
		"MalformedBody": {"term": "a"},
		"TwoFields":     {"term": map[string]any{"a": 1, "b": 2}},
		"BoolNotList":   {"bool": map[string]any{"must": "a"}},
		"BadRange":      {"range": map[string]any{"a": 5}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Matches(q, doc)
			assert.Error(t, err)
		})
	}
}
