package semconv

import "strings"

// PassthroughAdapter keeps every non-canonical attribute under ag.semconv so
// nothing the SDK sent is lost. It runs last and so never shadows a mapping.
type PassthroughAdapter struct {
	rules Rules
}

// NewPassthroughAdapter creates the semconv passthrough adapter.
func NewPassthroughAdapter() *PassthroughAdapter {
	return &PassthroughAdapter{rules: Rules{
		Dynamic: []DynamicRule{{
			Match: func(key string) bool { return !strings.HasPrefix(key, CanonicalPrefix) },
			Apply: func(key string, value any, out *Features) error {
				out.Set(SemconvPrefix+key, value)
				return nil
			},
		}},
	}}
}

func (a *PassthroughAdapter) Name() string { return "semconv" }

func (a *PassthroughAdapter) Process(bag *Bag, out *Features) error {
	return a.rules.Apply(bag, out)
}
