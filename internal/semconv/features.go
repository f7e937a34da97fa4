package semconv

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Features is the canonical attribute set of one span, keyed by flat dotted
// canonical key ("ag.metrics.unit.tokens.prompt").
//
// Writes are first-writer-wins per key subtree: once "ag.data.inputs" holds a
// value, neither it nor any key below it can be written again, and once a key
// below it exists, "ag.data.inputs" itself is closed. Keys under ag.semconv
// are one segment deep no matter how many dots the raw key carries.
type Features struct {
	values   map[string]any
	interior map[string]struct{}
}

// NewFeatures returns an empty feature set.
func NewFeatures() *Features {
	return &Features{
		values:   make(map[string]any),
		interior: make(map[string]struct{}),
	}
}

// Set stores v under key unless key, one of its ancestors, or one of its
// descendants is already written. Reports whether the write happened.
func (f *Features) Set(key string, v any) bool {
	if key == "" {
		return false
	}
	if _, ok := f.interior[key]; ok {
		return false
	}
	if _, ok := f.values[key]; ok {
		return false
	}
	segs := segments(key)
	for i := 1; i < len(segs); i++ {
		if _, ok := f.values[strings.Join(segs[:i], ".")]; ok {
			return false
		}
	}
	f.values[key] = v
	for i := 1; i < len(segs); i++ {
		f.interior[strings.Join(segs[:i], ".")] = struct{}{}
	}
	return true
}

// Get returns the value stored under key.
func (f *Features) Get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Len returns the number of flat keys.
func (f *Features) Len() int { return len(f.values) }

// Keys returns the flat keys in sorted order.
func (f *Features) Keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies every key of other into f, keeping f's value on conflict.
// Returns the number of keys written.
func (f *Features) Merge(other *Features) int {
	n := 0
	for _, k := range other.Keys() {
		if f.Set(k, other.values[k]) {
			n++
		}
	}
	return n
}

// Tree unflattens the keys into nested maps. Maps whose keys are exactly
// "0".."n-1" become slices, so "ag.data.inputs.prompt.0.role" reads back as
// a list of messages.
func (f *Features) Tree() map[string]any {
	c := gabs.New()
	for _, k := range f.Keys() {
		if _, err := c.Set(f.values[k], segments(k)...); err != nil {
			// Unreachable while Set enforces subtree exclusivity.
			continue
		}
	}
	root, _ := listify(c.Data()).(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	return root
}

// Namespaces returns the canonical namespaces (data, metrics, meta, tags,
// type, refs, semconv) without the "ag" root.
func (f *Features) Namespaces() map[string]any {
	ns, _ := f.Tree()[Root].(map[string]any)
	if ns == nil {
		ns = map[string]any{}
	}
	return ns
}

func segments(key string) []string {
	if rest, ok := strings.CutPrefix(key, SemconvPrefix); ok {
		return []string{Root, NamespaceSemconv, rest}
	}
	return strings.Split(key, ".")
}

func listify(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = listify(child)
		}
		if list, ok := asList(val); ok {
			return list
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = listify(child)
		}
		return val
	default:
		return v
	}
}

func asList(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make([]any, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
