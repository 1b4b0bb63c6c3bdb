package docstore

import "github.com/mongodb/docstore/model"

// MergeSource applies a partial document to a stored source and
// returns the result as a new map; neither input is modified.
//
// Objects merge key by key, recursively. Scalars and arrays in the
// partial replace the stored value wholesale, arrays are never merged
// element-wise. Keys absent from the stored source are added. A nil in
// the partial stores an explicit null.
func MergeSource(stored, partial map[string]any) map[string]any {
	out := model.CloneSource(stored)
	if out == nil {
		out = make(map[string]any, len(partial))
	}

	for key, value := range partial {
		incoming, isObject := value.(map[string]any)
		if !isObject {
			out[key] = model.CloneValue(value)
			continue
		}

		existing, wasObject := out[key].(map[string]any)
		if !wasObject {
			out[key] = model.CloneSource(incoming)
			continue
		}
		out[key] = MergeSource(existing, incoming)
	}

	return out
}
