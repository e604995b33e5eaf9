// Package dotpath implements the dotted-path resolver spec.md §9 calls for:
// "implement as a dedicated dotted-path resolver returning null on any
// missing segment; do not rely on a general expression language."
package dotpath

import "strconv"

// Get navigates value along the dotted path (e.g. "items.0.name") and
// returns the result, or nil if any segment is missing or the wrong shape.
// Numeric segments index into arrays/slices; all other segments index into
// map[string]interface{}.
func Get(value interface{}, path string) interface{} {
	if path == "" {
		return value
	}
	cur := value
	for _, seg := range splitPath(path) {
		if cur == nil {
			return nil
		}
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
