package expr

import (
	"strings"
)

// lookupField resolves a dot path such as "inputs.board_metrics.layer_count".
// A path that leaves the map structure, or ends on a nil value, is not found.
func lookupField(path string, ctx Context) (interface{}, bool) {
	if path == "" || ctx == nil {
		return nil, false
	}

	var current interface{} = map[string]interface{}(ctx)
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]interface{}:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			current = next
		case Context:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[interface{}]interface{}:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}
