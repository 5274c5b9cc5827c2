package model

import (
	"fmt"
	"sort"
	"strings"
)

// Patch is a set of forward-only metadata writes keyed by dotted path,
// e.g. "return.lastLateFeeDayCharged". Values replace whatever is stored at
// the path; intermediate objects are created as needed.
type Patch map[string]interface{}

// Paths returns the patch keys in a stable order.
func (p Patch) Paths() []string {
	paths := make([]string, 0, len(p))
	for k := range p {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Merge copies every entry of other into p and returns p.
func (p Patch) Merge(other Patch) Patch {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// ApplyPatch deep-sets every patch path on current and returns the merged
// map. A nil current map is initialized.
//
// Parameters:
// - current: The existing metadata map.
// - patch: The dotted-path writes to apply.
//
// Returns:
// - map[string]interface{}: The merged metadata map.
// - error: An error if a path crosses a non-object value.
func ApplyPatch(current map[string]interface{}, patch Patch) (map[string]interface{}, error) {
	if current == nil {
		current = make(map[string]interface{})
	}

	for _, path := range patch.Paths() {
		parts := strings.Split(path, ".")
		node := current
		for i, part := range parts[:len(parts)-1] {
			next, ok := node[part]
			if !ok || next == nil {
				child := make(map[string]interface{})
				node[part] = child
				node = child
				continue
			}
			child, ok := next.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("metadata path %s crosses non-object at %s", path, strings.Join(parts[:i+1], "."))
			}
			node = child
		}
		node[parts[len(parts)-1]] = patch[path]
	}

	return current, nil
}

// GetPath returns the value stored at a dotted path, or nil.
func GetPath(meta map[string]interface{}, path string) interface{} {
	var node interface{} = meta
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[part]
	}
	return node
}

// IsSet reports whether the value at path is present and non-zero.
func IsSet(meta map[string]interface{}, path string) bool {
	switch v := GetPath(meta, path).(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}
