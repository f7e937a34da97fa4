// Package semconv maps vendor-specific span attributes onto the canonical
// ag.* schema through an ordered list of adapters.
package semconv

import (
	"sort"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Bag is the per-span input every adapter reads. Adapters must treat it as
// read-only; their output goes to the Features they are handed.
type Bag struct {
	Attributes map[string]any
	Events     []model.SpanEvent

	keys []string
}

// NewBag wraps a span's raw attributes and events.
func NewBag(attrs map[string]any, events []model.SpanEvent) *Bag {
	if attrs == nil {
		attrs = map[string]any{}
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Bag{Attributes: attrs, Events: events, keys: keys}
}

// Keys returns the raw attribute keys in sorted order.
func (b *Bag) Keys() []string { return b.keys }

// Get returns one raw attribute.
func (b *Bag) Get(key string) (any, bool) {
	v, ok := b.Attributes[key]
	return v, ok
}
