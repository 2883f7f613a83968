// Package flatten collapses nested Singer records into single-level
// maps with path-joined keys, ready for columnar serialization.
package flatten

import (
	"encoding/json"
	"fmt"
)

// Separator joins parent and child keys in flattened records.
const Separator = "__"

// Flatten converts a nested record into a flat map. Nested objects are
// merged under "parent__child" keys, list values are coerced to their
// JSON text, and scalars pass through unchanged.
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	walk(record, "", out)
	return out
}

func walk(m map[string]any, parent string, out map[string]any) {
	for k, v := range m {
		key := k
		if parent != "" {
			key = parent + Separator + k
		}
		switch val := v.(type) {
		case map[string]any:
			walk(val, key, out)
		case []any:
			out[key] = listText(val)
		default:
			out[key] = v
		}
	}
}

// listText returns the JSON text of a list value.
func listText(v []any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
