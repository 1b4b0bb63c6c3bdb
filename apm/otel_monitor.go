// Copyright The OpenTelemetry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/sometimes"
	"github.com/pkg/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTracerName          = "github.com/mongodb/docstore/apm"
	documentIDAttribute        = "db.document.id"
	strippedStatementAttribute = "db.statement.stripped"
)

// config is used to configure the backend tracer.
type config struct {
	TracerProvider trace.TracerProvider

	Tracer trace.Tracer

	StatementAttributeDisabled bool

	StatementTransformerFunc StatementTransformer
}

// newConfig returns a config with all Options set.
func newConfig(opts ...Option) config {
	cfg := config{
		TracerProvider:             otel.GetTracerProvider(),
		StatementTransformerFunc:   transformStatement,
		StatementAttributeDisabled: true,
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(
		defaultTracerName,
	)
	return cfg
}

// Option specifies instrumentation configuration options.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithTracerProvider specifies a tracer provider to use for creating a tracer.
// If none is specified, the global provider is used.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return optionFunc(func(cfg *config) {
		if provider != nil {
			cfg.TracerProvider = provider
		}
	})
}

// WithStatementAttributeDisabled specifies if the request payload is added
// as an attribute to spans. It is disabled by default; the stripped form,
// which carries no values, is always added.
func WithStatementAttributeDisabled(disabled bool) Option {
	return optionFunc(func(cfg *config) {
		cfg.StatementAttributeDisabled = disabled
	})
}

// StatementTransformer rewrites a statement before it is recorded. Returning
// nil drops the statement attributes.
type StatementTransformer func(map[string]any) map[string]any

// WithStatementAttributeTransformer specifies a function to transform the
// statement attribute.
func WithStatementAttributeTransformer(transformer StatementTransformer) Option {
	return optionFunc(func(cfg *config) {
		if transformer != nil {
			cfg.StatementTransformerFunc = transformer
		} else {
			cfg.StatementTransformerFunc = transformStatement
		}
	})
}

type tracer struct {
	cfg config
}

// NewTracer returns an Observer that starts a client span per backend
// call.
func NewTracer(opts ...Option) Observer {
	return &tracer{cfg: newConfig(opts...)}
}

func (t *tracer) Observe(ctx context.Context, call Call) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		dbSystem(call.Backend),
		semconv.DBOperation(call.Operation),
	}
	spanName := call.Operation
	if call.Index != "" {
		attrs = append(attrs, semconv.DBName(call.Index))
		spanName = call.Index + "." + call.Operation
	}
	if call.ID != "" {
		attrs = append(attrs, attribute.String(documentIDAttribute, call.ID))
	}
	if call.Statement != nil {
		statementAttributes, err := t.statementAttributes(call.Statement)
		if err == nil {
			attrs = append(attrs, statementAttributes...)
		} else {
			grip.ErrorWhen(sometimes.Percent(10), errors.Wrap(err, "getting statement attributes"))
		}
	}

	ctx, span := t.cfg.Tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func dbSystem(backend string) attribute.KeyValue {
	switch backend {
	case "elasticsearch":
		return semconv.DBSystemElasticsearch
	case "mongodb":
		return semconv.DBSystemMongoDB
	default:
		return semconv.DBSystemKey.String(backend)
	}
}

func (t *tracer) statementAttributes(statement map[string]any) ([]attribute.KeyValue, error) {
	var attributes []attribute.KeyValue
	statement = t.cfg.StatementTransformerFunc(statement)
	// The transformer function can return nil if it doesn't want the contents of the statement
	// included as an attribute. An example would be if it contains sensitive data.
	if statement == nil {
		return nil, nil
	}

	if !t.cfg.StatementAttributeDisabled {
		formattedStmt, err := formatStatement(statement, false)
		if err != nil {
			return nil, errors.Wrap(err, "formatting statement")
		}
		attributes = append(attributes, semconv.DBStatement(formattedStmt))
	}

	strippedStatement, err := formatStatement(statement, true)
	if err != nil {
		return nil, errors.Wrap(err, "formatting stripped statement")
	}
	// Values are replaced by their types so that all the instances of a
	// query can be grouped together even when their values differ.
	attributes = append(attributes, attribute.String(strippedStatementAttribute, strippedStatement))

	return attributes, nil
}

func transformStatement(statement map[string]any) map[string]any {
	return statement
}

func formatStatement(statement map[string]any, stripped bool) (string, error) {
	var value any = statement
	if stripped {
		value = stripDocument(statement)
	}

	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshalling statement to JSON")
	}
	return string(b), nil
}

func stripDocument(doc map[string]any) map[string]any {
	stripped := make(map[string]any, len(doc))
	for key, value := range doc {
		stripped[key] = stripValue(value)
	}
	return stripped
}

func stripValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return stripDocument(v)
	case []any:
		arr := make([]any, 0, len(v))
		for _, item := range v {
			arr = append(arr, stripValue(item))
		}
		return compactArray(arr)
	case []string:
		arr := make([]any, 0, len(v))
		for _, item := range v {
			arr = append(arr, stripValue(item))
		}
		return compactArray(arr)
	default:
		return fmt.Sprintf("<%s>", valueType(val))
	}
}

func valueType(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64, json.Number:
		return "double"
	case time.Time:
		return "date"
	default:
		return fmt.Sprintf("%T", val)
	}
}

// compactArray collapses an array of type markers to one marker per
// type. Arrays holding anything else are returned unchanged.
func compactArray(arr []any) []any {
	compactedArray := make([]any, 0, len(arr))
	types := make(map[string]bool)
	for _, elem := range arr {
		valString, ok := elem.(string)
		if !ok {
			return arr
		}
		if !types[valString] {
			compactedArray = append(compactedArray, elem)
		}
		types[valString] = true
	}

	return compactedArray
}
