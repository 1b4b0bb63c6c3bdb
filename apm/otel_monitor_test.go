package apm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestCompactArray(t *testing.T) {
	for name, testCase := range map[string]struct {
		input     []any
		unchanged bool
		expected  []any
	}{
		"emptyArray": {input: []any{}, unchanged: true},
		"arrayType": {
			input:     []any{"<string>", []any{"<string>"}},
			unchanged: true,
		},
		"documentType": {
			input:     []any{"<string>", map[string]any{"a": "<string>"}},
			unchanged: true,
		},
		"multiplesOfEachType": {
			input:    []any{"<string>", "<string>", "<integer>", "<integer>"},
			expected: []any{"<string>", "<integer>"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			if testCase.unchanged {
				assert.Equal(t, testCase.input, compactArray(testCase.input))
			} else {
				assert.Equal(t, testCase.expected, compactArray(testCase.input))
			}
		})
	}
}

func TestStripDocument(t *testing.T) {
	for name, testCase := range map[string]struct {
		input    map[string]any
		expected map[string]any
	}{
		"simpleValues": {
			input: map[string]any{
				"a_string": "Why did the computer go broke? Because it used up all its cache!",
				"an_int":   1,
				"a_float":  1.5,
				"a_bool":   true,
				"a_null":   nil,
				"a_date":   time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC),
			},
			expected: map[string]any{
				"a_string": "<string>",
				"an_int":   "<integer>",
				"a_float":  "<double>",
				"a_bool":   "<boolean>",
				"a_null":   "<null>",
				"a_date":   "<date>",
			},
		},
		"nestedArray": {
			input: map[string]any{
				"array": []any{"one", 2, "two", 3, time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)},
			},
			expected: map[string]any{
				"array": []any{"<string>", "<integer>", "<date>"},
			},
		},
		"stringSlice": {
			input:    map[string]any{"tags": []string{"a", "b"}},
			expected: map[string]any{"tags": []any{"<string>"}},
		},
		"nestedSubdocument": {
			input:    map[string]any{"subdocument": map[string]any{"my_int": 1}},
			expected: map[string]any{"subdocument": map[string]any{"my_int": "<integer>"}},
		},
		"nestedRecursively": {
			input:    map[string]any{"subdocument": map[string]any{"array": []any{"one"}}},
			expected: map[string]any{"subdocument": map[string]any{"array": []any{"<string>"}}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, stripDocument(testCase.input))
		})
	}
}

func TestFormatStatement(t *testing.T) {
	statement := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"status": "stale"}},
				},
			},
		},
	}

	t.Run("Full", func(t *testing.T) {
		out, err := formatStatement(statement, false)
		require.NoError(t, err)
		assert.Equal(t, `{
  "query": {
    "bool": {
      "filter": [
        {
          "term": {
            "status": "stale"
          }
        }
      ]
    }
  }
}`, out)
	})
	t.Run("Stripped", func(t *testing.T) {
		out, err := formatStatement(statement, true)
		require.NoError(t, err)
		assert.Contains(t, out, `"status": "<string>"`)
		assert.NotContains(t, out, "stale")
	})
}

func TestTracer(t *testing.T) {
	ctx := context.Background()
	newTracer := func(opts ...Option) (*tracetest.SpanRecorder, Observer) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		return recorder, NewTracer(append(opts, WithTracerProvider(provider))...)
	}

	t.Run("SpanPerCall", func(t *testing.T) {
		recorder, tr := newTracer()
		_, done := tr.Observe(ctx, Call{Backend: "elasticsearch", Operation: "index", Index: "people", ID: "1",
			Statement: map[string]any{"name": "ada"}})
		done(nil)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		span := spans[0]
		assert.Equal(t, "people.index", span.Name())
		assert.Equal(t, trace.SpanKindClient, span.SpanKind())

		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "elasticsearch", attrs["db.system"])
		assert.Equal(t, "index", attrs["db.operation"])
		assert.Equal(t, "people", attrs["db.name"])
		assert.Equal(t, "1", attrs[documentIDAttribute])
		assert.Contains(t, attrs[strippedStatementAttribute], "<string>")
		assert.NotContains(t, attrs, "db.statement")
	})
	t.Run("StatementEnabled", func(t *testing.T) {
		recorder, tr := newTracer(WithStatementAttributeDisabled(false))
		_, done := tr.Observe(ctx, Call{Backend: "memory", Operation: "search", Statement: map[string]any{"query": "ada"}})
		done(nil)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		found := false
		for _, kv := range spans[0].Attributes() {
			if kv.Key == "db.statement" {
				found = true
				assert.Contains(t, kv.Value.AsString(), "ada")
			}
		}
		assert.True(t, found)
	})
	t.Run("TransformerDropsStatement", func(t *testing.T) {
		recorder, tr := newTracer(WithStatementAttributeTransformer(func(map[string]any) map[string]any { return nil }))
		_, done := tr.Observe(ctx, Call{Operation: "index", Statement: map[string]any{"secret": "x"}})
		done(nil)

		for _, kv := range recorder.Ended()[0].Attributes() {
			assert.NotEqual(t, strippedStatementAttribute, string(kv.Key))
		}
	})
	t.Run("ErrorStatus", func(t *testing.T) {
		recorder, tr := newTracer()
		_, done := tr.Observe(ctx, Call{Operation: "get", Index: "people"})
		done(errors.New("boom"))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "boom", spans[0].Status().Description)
	})
}
