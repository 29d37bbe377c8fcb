// Package facts provides helpers over the JSON-like fact mapping that tracks issue progress.
package facts

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// StatusKey is the sub-map that phase results are merged into.
const StatusKey = "status"

// Facts is a tree of maps and scalars decoded from issue state.
type Facts map[string]any

// Lookup resolves a dot-separated path. A missing key or a non-map intermediate
// node resolves to nil.
func (f Facts) Lookup(path string) any {
	return Lookup(map[string]any(f), path)
}

// Lookup resolves a dot-separated path against any value.
func Lookup(root any, path string) any {
	current := root
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Facts:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// Truthy reports whether a value counts as true in a guard.
// Nil, false, numeric zero, empty strings and empty containers are falsy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case map[string]any:
		return len(x) > 0
	case Facts:
		return len(x) > 0
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	}
	if n, ok := Number(v); ok {
		return n != 0
	}
	return true
}

// Number converts numeric values to float64.
func Number(v any) (float64, bool) {
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
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify renders a value for shell substitution and environment export.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Stringify(float64(x))
	case json.Number:
		return x.String()
	case map[string]any, Facts, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// Flatten exports nested facts as environment variables. Nested keys are
// joined with "_" and upper-cased, and dots inside keys become "_". Keys are
// visited in sorted order, so on a collision the last key in that order wins.
func (f Facts) Flatten() map[string]string {
	out := make(map[string]string)
	flatten(out, "", map[string]any(f))
	return out
}

func flatten(out map[string]string, prefix string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ReplaceAll(k, ".", "_")
		if prefix != "" {
			key = prefix + "_" + key
		}
		if nested, ok := asMap(m[k]); ok {
			flatten(out, key, nested)
			continue
		}
		out[strings.ToUpper(key)] = Stringify(m[k])
	}
}

// Environ returns the flattened facts as sorted KEY=value pairs.
func (f Facts) Environ() []string {
	flat := f.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+flat[k])
	}
	return env
}

// Clone returns a deep copy of the map tree. Leaf values are shared.
func (f Facts) Clone() Facts {
	if f == nil {
		return Facts{}
	}
	return Facts(cloneMap(map[string]any(f)))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case map[string]any:
			out[k] = cloneMap(x)
		case Facts:
			out[k] = cloneMap(map[string]any(x))
		case []any:
			out[k] = append([]any(nil), x...)
		default:
			out[k] = v
		}
	}
	return out
}

// Set assigns a value at a dot-separated path, creating intermediate maps.
// A non-map intermediate value is replaced.
func (f Facts) Set(path string, value any) {
	parts := strings.Split(path, ".")
	current := map[string]any(f)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// MergeStatus merges phase result updates into the status sub-map.
func (f Facts) MergeStatus(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	for k, v := range updates {
		f.Set(StatusKey+"."+k, v)
	}
}

// ParseValue converts command-line text to a fact value: JSON when it parses,
// otherwise the raw string.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
