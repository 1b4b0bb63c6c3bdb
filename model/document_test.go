package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSource(t *testing.T) {
	source := map[string]any{
		"name":    "kay",
		"address": map[string]any{"city": "nyc"},
		"tags":    []any{"a", map[string]any{"b": 1}},
		"labels":  []string{"x"},
	}
	clone := CloneSource(source)
	assert.Equal(t, source, clone)

	clone["address"].(map[string]any)["city"] = "sf"
	clone["tags"].([]any)[1].(map[string]any)["b"] = 2
	clone["labels"].([]string)[0] = "y"

	assert.Equal(t, "nyc", source["address"].(map[string]any)["city"])
	assert.Equal(t, 1, source["tags"].([]any)[1].(map[string]any)["b"])
	assert.Equal(t, []string{"x"}, source["labels"])
	assert.Nil(t, CloneSource(nil))
}

func TestDocumentClone(t *testing.T) {
	var missing *Document
	assert.Nil(t, missing.Clone())

	doc := &Document{Index: "people", ID: "1", Version: 3, Revision: Revision{SeqNo: 7, PrimaryTerm: 1}, Source: map[string]any{"a": 1}}
	clone := doc.Clone()
	assert.Equal(t, doc, clone)
	clone.Source["a"] = 2
	assert.Equal(t, 1, doc.Source["a"])
}

func TestLookup(t *testing.T) {
	source := map[string]any{
		"name":       "kay",
		"author":     map[string]any{"name": "lee", "born": map[string]any{"year": 1970}},
		"dotted.key": true,
	}
	for path, expected := range map[string]any{
		"name":             "kay",
		"author.name":      "lee",
		"author.born.year": 1970,
		"dotted.key":       true,
	} {
		v, ok := Lookup(source, path)
		assert.True(t, ok, path)
		assert.Equal(t, expected, v, path)
	}
	for _, path := range []string{"title", "name.first", "author.age", ""} {
		_, ok := Lookup(source, path)
		assert.False(t, ok, path)
	}
	_, ok := Lookup(nil, "name")
	assert.False(t, ok)
}

func TestRevision(t *testing.T) {
	assert.True(t, Revision{}.IsZero())
	assert.False(t, Revision{SeqNo: 0, PrimaryTerm: 1}.IsZero())
}

func TestSourceChanged(t *testing.T) {
	for name, test := range map[string]struct {
		before, after map[string]any
		changed       bool
	}{
		"Identical":       {before: map[string]any{"a": 1, "b": map[string]any{"c": "d"}}, after: map[string]any{"a": 1, "b": map[string]any{"c": "d"}}},
		"Scalar":          {before: map[string]any{"a": 1}, after: map[string]any{"a": 2}, changed: true},
		"AddedKey":        {before: map[string]any{"a": 1}, after: map[string]any{"a": 1, "b": 2}, changed: true},
		"NestedKey":       {before: map[string]any{"b": map[string]any{}}, after: map[string]any{"b": map[string]any{"c": nil}}, changed: true},
		"ExplicitNull":    {before: map[string]any{"a": 1}, after: map[string]any{"a": nil}, changed: true},
		"ArrayReorder":    {before: map[string]any{"a": []any{1, 2}}, after: map[string]any{"a": []any{2, 1}}, changed: true},
		"TypeMismatch":    {before: map[string]any{"a": "1"}, after: map[string]any{"a": 1}, changed: true},
		"BothEmpty":       {before: map[string]any{}, after: map[string]any{}},
		"ArrayReplaced":   {before: map[string]any{"a": []any{"x"}}, after: map[string]any{"a": []any{"x", "y"}}, changed: true},
		"EmptyToNilArray": {before: map[string]any{"t": []any{}}, after: map[string]any{"t": []any(nil)}, changed: true},
		"NilToEmptyArray": {before: map[string]any{"t": []string(nil)}, after: map[string]any{"t": []string{}}, changed: true},
		"NestedEmptyToNilArray": {
			before:  map[string]any{"b": map[string]any{"t": []any{}}},
			after:   map[string]any{"b": map[string]any{"t": []any(nil)}},
			changed: true,
		},
		"EmptyArrays": {before: map[string]any{"t": []any{}}, after: map[string]any{"t": []any{}}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.changed, SourceChanged(test.before, test.after))
		})
	}
}

func TestDiffSources(t *testing.T) {
	changes, err := DiffSources(
		map[string]any{"name": "kay", "address": map[string]any{"city": "nyc"}},
		map[string]any{"name": "kay", "address": map[string]any{"city": "sf"}, "age": 40},
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"address.city", "age"}, ChangedPaths(changes))
}
