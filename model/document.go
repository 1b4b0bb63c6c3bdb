package model

import (
	"strings"
)

// Revision is the optimistic concurrency token of a stored document.
// Conditional writes succeed only while the stored revision matches.
type Revision struct {
	SeqNo       int64 `bson:"seq_no" json:"_seq_no" yaml:"seq_no"`
	PrimaryTerm int64 `bson:"primary_term" json:"_primary_term" yaml:"primary_term"`
}

// IsZero reports if the revision was never assigned.
func (r Revision) IsZero() bool { return r.SeqNo == 0 && r.PrimaryTerm == 0 }

// Document is a stored source plus its identity and version. Version
// increases by one on every successful mutation.
type Document struct {
	Index    string         `json:"_index" yaml:"index"`
	ID       string         `json:"_id" yaml:"id"`
	Version  int64          `json:"_version" yaml:"version"`
	Revision Revision       `json:"revision" yaml:"revision"`
	Source   map[string]any `json:"_source" yaml:"source"`
}

// NewDocument builds an unsaved document.
func NewDocument(index string, source map[string]any) *Document {
	return &Document{Index: index, Source: source}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Source = CloneSource(d.Source)
	return &out
}

// CloneSource deep copies a source map. Nested maps and slices are
// copied; other values are shared.
func CloneSource(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies maps and slices inside a source value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneSource(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = CloneValue(val[i])
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Lookup resolves a dotted path against a source map.
func Lookup(source map[string]any, path string) (any, bool) {
	if source == nil {
		return nil, false
	}
	if v, ok := source[path]; ok {
		return v, true
	}

	head, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	child, ok := source[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return Lookup(child, rest)
}
