package domain

import (
	"reflect"
	"sort"
	"strings"
)

// IntermediateSuffix marks state keys that hold derived byproducts rather
// than true state.
const IntermediateSuffix = "_intermediate"

// State is a snapshot of the economic state. Transitions never modify a
// snapshot in place; they produce a new one.
type State map[string]any

// Payload is the opaque data carried by an act.
type Payload map[string]any

// Clone returns a shallow copy. A nil state clones to an empty one.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with every key of update overwritten.
// Values are replaced wholesale; nested maps are not merged.
func (s State) Merge(update State) State {
	out := s.Clone()
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Keys returns the keys of s sorted lexicographically.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both snapshots hold the same keys and values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValuesEqual compares state values, treating numbers of different Go types
// as equal when they hold the same value (4 == 4.0). Maps and slices are
// compared element-wise.
func ValuesEqual(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			ov, ok := y[k]
			if !ok || !ValuesEqual(v, ov) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !ValuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Intermediate selects the keys following the intermediate naming convention.
func (s State) Intermediate() State {
	out := State{}
	for k, v := range s {
		if IsIntermediateKey(k) {
			out[k] = v
		}
	}
	return out
}

func IsIntermediateKey(key string) bool {
	return strings.HasSuffix(key, IntermediateSuffix)
}

func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
