package mock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

func sortedIDs(docs map[string]*model.Document) []string {
	out := make([]string, 0, len(docs))
	for id := range docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Matches evaluates the subset of the query DSL built by the model
// package against a document. A nil query matches everything.
func Matches(q model.Query, doc *model.Document) (bool, error) {
	if len(q) == 0 {
		return true, nil
	}
	if len(q) != 1 {
		return false, errors.Errorf("query must have exactly one clause, got %d", len(q))
	}

	for kind, body := range q {
		args, ok := asMap(body)
		if !ok {
			return false, errors.Errorf("malformed [%s] clause", kind)
		}
		switch kind {
		case "match_all":
			return true, nil
		case "term":
			return eachField(args, func(field string, value any) bool {
				return anyValue(lookup(doc, field), func(v any) bool { return equalValues(v, value) })
			})
		case "terms":
			return eachField(args, func(field string, values any) bool {
				list, _ := values.([]any)
				return anyValue(lookup(doc, field), func(v any) bool {
					for _, want := range list {
						if equalValues(v, want) {
							return true
						}
					}
					return false
				})
			})
		case "match":
			return eachField(args, func(field string, value any) bool {
				return anyValue(lookup(doc, field), func(v any) bool { return textMatch(v, value) })
			})
		case "exists":
			field, _ := args["field"].(string)
			v := lookup(doc, field)
			return v != nil, nil
		case "ids":
			values, _ := args["values"].([]any)
			for _, id := range values {
				if id == doc.ID {
					return true, nil
				}
			}
			return false, nil
		case "range":
			var rangeErr error
			ok, err := eachField(args, func(field string, bounds any) bool {
				b, ok := asMap(bounds)
				if !ok {
					rangeErr = errors.Errorf("malformed range on [%s]", field)
					return false
				}
				return anyValue(lookup(doc, field), func(v any) bool { return inRange(v, b) })
			})
			if rangeErr != nil {
				return false, rangeErr
			}
			return ok, err
		case "bool":
			return matchBool(args, doc)
		default:
			return false, errors.Errorf("unsupported query clause [%s]", kind)
		}
	}
	return false, nil
}

func matchBool(args map[string]any, doc *model.Document) (bool, error) {
	clauses := func(key string) ([]model.Query, error) {
		raw, ok := args[key]
		if !ok {
			return nil, nil
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.Errorf("bool [%s] must be a list", key)
		}
		out := make([]model.Query, 0, len(list))
		for _, item := range list {
			m, ok := asMap(item)
			if !ok {
				return nil, errors.Errorf("malformed clause in bool [%s]", key)
			}
			out = append(out, model.Query(m))
		}
		return out, nil
	}

	var required []model.Query
	for _, key := range []string{"must", "filter"} {
		qs, err := clauses(key)
		if err != nil {
			return false, err
		}
		required = append(required, qs...)
	}
	for _, q := range required {
		ok, err := Matches(q, doc)
		if err != nil || !ok {
			return false, err
		}
	}

	mustNot, err := clauses("must_not")
	if err != nil {
		return false, err
	}
	for _, q := range mustNot {
		ok, err := Matches(q, doc)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}

	should, err := clauses("should")
	if err != nil {
		return false, err
	}
	if len(should) == 0 || len(required) > 0 {
		return true, nil
	}
	for _, q := range should {
		ok, err := Matches(q, doc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Query:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func eachField(args map[string]any, fn func(string, any) bool) (bool, error) {
	if len(args) != 1 {
		return false, errors.Errorf("clause must name exactly one field, got %d", len(args))
	}
	for field, value := range args {
		return fn(field, value), nil
	}
	return false, nil
}

func lookup(doc *model.Document, field string) any {
	if field == "_id" {
		return doc.ID
	}
	v, _ := model.Lookup(doc.Source, field)
	return v
}

// anyValue applies fn to a value or, for arrays, to each element.
func anyValue(v any, fn func(any) bool) bool {
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if fn(item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range list {
			if fn(item) {
				return true
			}
		}
		return false
	case nil:
		return false
	default:
		return fn(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// textMatch approximates an analyzed match: any whitespace separated
// token of the query must appear among the tokens of the value.
func textMatch(v, query any) bool {
	if _, ok := toFloat(query); ok {
		return equalValues(v, query)
	}
	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(strings.ToLower(fmt.Sprint(v))) {
		tokens[tok] = struct{}{}
	}
	for _, tok := range strings.Fields(strings.ToLower(fmt.Sprint(query))) {
		if _, ok := tokens[tok]; ok {
			return true
		}
	}
	return false
}

func inRange(v any, bounds map[string]any) bool {
	cmp := func(bound any) (int, bool) {
		if vf, ok := toFloat(v); ok {
			bf, ok := toFloat(bound)
			if !ok {
				return 0, false
			}
			switch {
			case vf < bf:
				return -1, true
			case vf > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		vs, ok1 := v.(string)
		bs, ok2 := bound.(string)
		if !ok1 || !ok2 {
			return 0, false
		}
		return strings.Compare(vs, bs), true
	}

	for op, bound := range bounds {
		c, ok := cmp(bound)
		if !ok {
			return false
		}
		switch op {
		case "gt":
			if c <= 0 {
				return false
			}
		case "gte":
			if c < 0 {
				return false
			}
		case "lt":
			if c >= 0 {
				return false
			}
		case "lte":
			if c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
