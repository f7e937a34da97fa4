package semconv

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Adapter maps one vendor convention onto canonical features. Process must
// only read bag and only write features; it must not depend on other spans.
type Adapter interface {
	Name() string
	Process(bag *Bag, features *Features) error
}

// AdapterError reports an adapter that failed on one span. The adapter's
// contribution for that span is discarded.
type AdapterError struct {
	Adapter string
	Key     string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("semconv: adapter %s: key %q: %v", e.Adapter, e.Key, e.Err)
	}
	return fmt.Sprintf("semconv: adapter %s: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// DynamicFunc performs a structural transform of one raw attribute.
type DynamicFunc func(key string, value any, out *Features) error

// PrefixRule swaps From for To and keeps the rest of the key.
type PrefixRule struct {
	From string
	To   string
}

// DynamicRule applies Apply to every raw key Match accepts.
type DynamicRule struct {
	Match func(key string) bool
	Apply DynamicFunc
}

// Rules is a table-driven mapping. For every raw key the strategies are
// tried in order (exact, prefix, dynamic) and the first match consumes it.
type Rules struct {
	Exact   map[string]string
	Prefix  []PrefixRule
	Dynamic []DynamicRule
}

// Apply runs the rules over every raw key of bag in sorted order.
func (r Rules) Apply(bag *Bag, out *Features) error {
	for _, key := range bag.Keys() {
		value := bag.Attributes[key]
		if dst, ok := r.Exact[key]; ok {
			out.Set(dst, value)
			continue
		}
		if dst, ok := r.rewrite(key); ok {
			out.Set(dst, value)
			continue
		}
		for _, d := range r.Dynamic {
			if !d.Match(key) {
				continue
			}
			if err := d.Apply(key, value, out); err != nil {
				return &AdapterError{Key: key, Err: err}
			}
			break
		}
	}
	return nil
}

func (r Rules) rewrite(key string) (string, bool) {
	for _, p := range r.Prefix {
		if rest, ok := strings.CutPrefix(key, p.From); ok && rest != "" {
			return p.To + rest, true
		}
	}
	return "", false
}

// Registry runs adapters in registration order. The first adapter to write a
// canonical key owns it.
type Registry struct {
	adapters []Adapter
	logger   *slog.Logger
}

// NewRegistry creates a registry over adapters, in order.
func NewRegistry(logger *slog.Logger, adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters, logger: logger}
}

// DefaultRegistry returns the registry used by ingestion.
func DefaultRegistry(logger *slog.Logger) *Registry {
	return NewRegistry(logger,
		NewNativeAdapter(),
		NewGenAIAdapter(),
		NewEventAdapter(),
		NewOpenLLMetryAdapter(),
		NewPassthroughAdapter(),
	)
}

// Adapters returns the registered adapters in run order.
func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Process runs every adapter over bag and returns the merged features plus
// the adapters that failed. A failed adapter contributes nothing; the rest
// still run.
func (r *Registry) Process(bag *Bag) (*Features, []*AdapterError) {
	features := NewFeatures()
	var failures []*AdapterError
	for _, a := range r.adapters {
		contribution, err := runAdapter(a, bag)
		if err != nil {
			var ae *AdapterError
			if !errors.As(err, &ae) {
				ae = &AdapterError{Err: err}
			}
			ae.Adapter = a.Name()
			r.logger.Warn("semconv: adapter failed, contribution dropped",
				"adapter", ae.Adapter, "key", ae.Key, "error", ae.Err)
			failures = append(failures, ae)
			continue
		}
		if contribution.Len() == 0 {
			continue
		}
		features.Merge(contribution)
	}
	return features, failures
}

func runAdapter(a Adapter, bag *Bag) (contribution *Features, err error) {
	contribution = NewFeatures()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	err = a.Process(bag, contribution)
	return contribution, err
}
