package model

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/r3labs/diff/v3"
)

// DiffSources lists the changes that turn before into after. Slices
// compare element by element in order; values of different types are
// reported as updates rather than failing the comparison.
func DiffSources(before, after map[string]any) (diff.Changelog, error) {
	changes, err := diff.Diff(before, after, diff.AllowTypeMismatch(true), diff.SliceOrdering(true))
	if err != nil {
		return nil, errors.Wrap(err, "comparing document sources")
	}
	return changes, nil
}

// SourceChanged reports if after differs from before. Keys that only
// gained or lost an explicit null count as changes. Sources that
// cannot be compared are treated as changed.
func SourceChanged(before, after map[string]any) bool {
	if !sameKeys(before, after) {
		return true
	}
	changes, err := DiffSources(before, after)
	if err != nil {
		return true
	}
	return len(changes) > 0
}

// ChangedPaths flattens a changelog into dotted paths for logging.
func ChangedPaths(changes diff.Changelog) []string {
	out := make([]string, 0, len(changes))
	for _, change := range changes {
		out = append(out, strings.Join(change.Path, "."))
	}
	return out
}

func sameKeys(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		am, aIsMap := av.(map[string]any)
		bm, bIsMap := bv.(map[string]any)
		if aIsMap && bIsMap && !sameKeys(am, bm) {
			return false
		}
		if (av == nil) != (bv == nil) {
			return false
		}
		// an empty array and a nil slice encode as [] and null
		aSlice, aNil := sliceNilness(av)
		bSlice, bNil := sliceNilness(bv)
		if aSlice && bSlice && aNil != bNil {
			return false
		}
	}
	return true
}

func sliceNilness(v any) (isSlice, isNil bool) {
	switch val := v.(type) {
	case []any:
		return true, val == nil
	case []string:
		return true, val == nil
	default:
		return false, false
	}
}
