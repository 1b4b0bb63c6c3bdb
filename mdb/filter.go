package mdb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Filter translates the query DSL built by the model package into a
// MongoDB filter over stored records.
func Filter(q model.Query) (bson.M, error) {
	if len(q) == 0 {
		return bson.M{}, nil
	}
	if len(q) != 1 {
		return nil, errors.Errorf("query must have exactly one clause, got %d", len(q))
	}

	for kind, body := range q {
		args, ok := asMap(body)
		if !ok {
			return nil, errors.Errorf("malformed [%s] clause", kind)
		}
		switch kind {
		case "match_all":
			return bson.M{}, nil
		case "term":
			return fieldClause(args, func(field string, value any) (any, error) { return value, nil })
		case "terms":
			return fieldClause(args, func(field string, values any) (any, error) {
				list, ok := values.([]any)
				if !ok {
					return nil, errors.Errorf("terms on [%s] must be a list", field)
				}
				return bson.M{"$in": list}, nil
			})
		case "match":
			return fieldClause(args, func(field string, value any) (any, error) {
				if _, ok := value.(string); !ok {
					return value, nil
				}
				return bson.M{"$regex": tokenPattern(value.(string)), "$options": "i"}, nil
			})
		case "exists":
			field, _ := args["field"].(string)
			if field == "" {
				return nil, errors.New("exists requires a field")
			}
			return bson.M{path(field): bson.M{"$exists": true, "$ne": nil}}, nil
		case "ids":
			values, ok := args["values"].([]any)
			if !ok {
				return nil, errors.New("ids requires a list of values")
			}
			return bson.M{"_id": bson.M{"$in": values}}, nil
		case "range":
			return fieldClause(args, func(field string, raw any) (any, error) {
				bounds, ok := asMap(raw)
				if !ok {
					return nil, errors.Errorf("malformed range on [%s]", field)
				}
				out := bson.M{}
				for op, bound := range bounds {
					switch op {
					case "gt", "gte", "lt", "lte":
						out["$"+op] = bound
					default:
						return nil, errors.Errorf("unsupported range operator [%s] on [%s]", op, field)
					}
				}
				return out, nil
			})
		case "bool":
			return boolFilter(args)
		default:
			return nil, errors.Errorf("unsupported query clause [%s]", kind)
		}
	}
	return nil, nil
}

func path(field string) string {
	if field == "_id" {
		return field
	}
	return "source." + field
}

// tokenPattern matches any whitespace separated token of the query as
// a whole word.
func tokenPattern(query string) string {
	tokens := strings.Fields(query)
	quoted := make([]string, len(tokens))
	for i := range tokens {
		quoted[i] = regexp.QuoteMeta(tokens[i])
	}
	return fmt.Sprintf(`(^|\s)(%s)(\s|$)`, strings.Join(quoted, "|"))
}

func fieldClause(args map[string]any, fn func(string, any) (any, error)) (bson.M, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("clause must name exactly one field, got %d", len(args))
	}
	for field, value := range args {
		cond, err := fn(field, value)
		if err != nil {
			return nil, err
		}
		return bson.M{path(field): cond}, nil
	}
	return nil, nil
}

func boolFilter(args map[string]any) (bson.M, error) {
	translate := func(key string) (bson.A, error) {
		raw, ok := args[key]
		if !ok {
			return nil, nil
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.Errorf("bool [%s] must be a list", key)
		}
		out := make(bson.A, 0, len(list))
		for _, item := range list {
			m, ok := asMap(item)
			if !ok {
				return nil, errors.Errorf("malformed clause in bool [%s]", key)
			}
			f, err := Filter(model.Query(m))
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}

	var required bson.A
	for _, key := range []string{"must", "filter"} {
		clauses, err := translate(key)
		if err != nil {
			return nil, err
		}
		required = append(required, clauses...)
	}
	mustNot, err := translate("must_not")
	if err != nil {
		return nil, err
	}
	should, err := translate("should")
	if err != nil {
		return nil, err
	}

	out := bson.M{}
	if len(required) > 0 {
		out["$and"] = required
	}
	if len(mustNot) > 0 {
		out["$nor"] = mustNot
	}
	// should clauses only narrow the result when nothing is required
	if len(should) > 0 && len(required) == 0 {
		out["$or"] = should
	}
	return out, nil
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
