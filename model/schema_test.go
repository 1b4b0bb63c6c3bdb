package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFlatten(t *testing.T) {
	schema := NewSchema().
		With("name", Field(TypeText)).
		With("author.name", Field(TypeKeyword)).
		With("author", Object(map[string]FieldMapping{"born": DateField("yyyy")}))

	flat, err := schema.Flatten()
	require.NoError(t, err)
	assert.Equal(t, []string{"author", "author.born", "author.name", "name"}, schema.Names())
	assert.Equal(t, TypeObject, flat["author"].Type)
	assert.Equal(t, "yyyy", flat["author.born"].Format)
	assert.True(t, flat["name"].Analyzed)

	field, ok := schema.Field("author.born")
	assert.True(t, ok)
	assert.Equal(t, TypeDate, field.Type)
	_, ok = schema.Field("title")
	assert.False(t, ok)
}

func TestSchemaValidate(t *testing.T) {
	for name, test := range map[string]struct {
		schema SchemaDescriptor
		valid  bool
	}{
		"Empty":         {schema: NewSchema(), valid: true},
		"Zero":          {schema: SchemaDescriptor{}, valid: true},
		"Simple":        {schema: NewSchema().With("age", Field(TypeLong)), valid: true},
		"UnknownType":   {schema: NewSchema().With("age", Field("number"))},
		"LeafAsParent":  {schema: NewSchema().With("age", Field(TypeLong)).With("age.years", Field(TypeLong))},
		"LeafWithProps": {schema: NewSchema().With("age", FieldMapping{Type: TypeLong, Properties: map[string]FieldMapping{"x": Field(TypeLong)}})},
		"Redeclared": {schema: NewSchema().
			With("author", Object(map[string]FieldMapping{"name": Field(TypeText)})).
			With("author.name", Field(TypeKeyword))},
		"EmptySegment": {schema: NewSchema().With("author..name", Field(TypeText))},
		"Nested":       {schema: NewSchema().With("comments", FieldMapping{Type: TypeNested, Properties: map[string]FieldMapping{"body": Field(TypeText)}}), valid: true},
	} {
		t.Run(name, func(t *testing.T) {
			err := test.schema.Validate()
			if test.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSchemaWithDoesNotModifyReceiver(t *testing.T) {
	base := NewSchema().With("name", Field(TypeText))
	_ = base.With("age", Field(TypeLong))
	assert.Equal(t, []string{"name"}, base.Names())
}

func TestSchemaMergeAdditive(t *testing.T) {
	current := NewSchema().
		With("name", Field(TypeText)).
		With("author", Object(map[string]FieldMapping{"name": Field(TypeKeyword)}))

	t.Run("AddsFields", func(t *testing.T) {
		merged, conflicts, err := current.MergeAdditive(NewSchema().
			With("age", Field(TypeLong)).
			With("author", Object(map[string]FieldMapping{"born": DateField("yyyy")})))
		require.NoError(t, err)
		assert.Empty(t, conflicts)
		assert.Equal(t, []string{"age", "author", "author.born", "author.name", "name"}, merged.Names())
		assert.Equal(t, []string{"author", "author.name", "name"}, current.Names())
	})
	t.Run("SameDeclarationIsCompatible", func(t *testing.T) {
		_, conflicts, err := current.MergeAdditive(NewSchema().With("name", Field(TypeText)))
		assert.NoError(t, err)
		assert.Empty(t, conflicts)
	})
	t.Run("RejectsTypeChange", func(t *testing.T) {
		_, conflicts, err := current.MergeAdditive(NewSchema().
			With("age", Field(TypeLong)).
			With("author.name", Field(TypeText)))
		require.Error(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, FieldConflict{Path: "author.name", Existing: TypeKeyword, Requested: TypeText}, conflicts[0])
		assert.Equal(t, "mapper [author.name] cannot be changed from type [keyword] to [text]", err.Error())
	})
	t.Run("RejectsObjectToLeaf", func(t *testing.T) {
		conflicts, err := current.Conflicts(NewSchema().With("author", Field(TypeKeyword)))
		require.NoError(t, err)
		assert.Len(t, conflicts, 1)
	})
}

func TestParseFieldSpec(t *testing.T) {
	t.Run("Pairs", func(t *testing.T) {
		schema, err := ParseFieldSpec(
			"name", "type=text",
			"country", "type=keyword",
			"born", "type=date,format=yyyy-MM-dd||epoch_millis",
			"bio", "type=text,analyzed=false",
		)
		require.NoError(t, err)
		assert.Equal(t, FieldMapping{Type: TypeText, Analyzed: true}, schema.Fields["name"])
		assert.Equal(t, FieldMapping{Type: TypeKeyword}, schema.Fields["country"])
		assert.Equal(t, FieldMapping{Type: TypeDate, Format: "yyyy-MM-dd||epoch_millis"}, schema.Fields["born"])
		assert.False(t, schema.Fields["bio"].Analyzed)
	})
	for name, pairs := range map[string][]string{
		"OddArguments":   {"name"},
		"NoType":         {"name", "format=x"},
		"MalformedPart":  {"name", "type"},
		"UnknownKey":     {"name", "type=text,store=true"},
		"UnknownType":    {"name", "type=string"},
		"ConflictingDup": {"name", "type=text", "name", "type=keyword"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFieldSpec(pairs...)
			assert.Error(t, err)
		})
	}
}
