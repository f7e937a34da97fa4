package semconv

import (
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// NativeAdapter passes through attributes that are already canonical, as
// written by SDKs that speak the ag.* schema directly. ag.refs.resource_id
// and the ag.metrics.acc subtree are reserved for ingestion and are never
// taken from the wire.
type NativeAdapter struct {
	rules Rules
}

// NewNativeAdapter creates the native ag.* adapter.
func NewNativeAdapter() *NativeAdapter {
	return &NativeAdapter{rules: Rules{
		Dynamic: []DynamicRule{{
			Match: func(key string) bool {
				return strings.HasPrefix(key, CanonicalPrefix) && !reserved(key)
			},
			Apply: passNative,
		}},
	}}
}

func reserved(key string) bool {
	switch key {
	case KeyResourceID, KeyMetricsAcc, Root + "." + NamespaceMetrics:
		return true
	}
	return strings.HasPrefix(key, KeyMetricsAcc+".")
}

func (a *NativeAdapter) Name() string { return "native" }

func (a *NativeAdapter) Process(bag *Bag, out *Features) error {
	return a.rules.Apply(bag, out)
}

// passNative copies a canonical key. Data and meta values that arrive as
// JSON-encoded strings are decoded.
func passNative(key string, value any, out *Features) error {
	if s, ok := value.(string); ok && isStructured(key, s) {
		if parsed, err := gabs.ParseJSON([]byte(s)); err == nil {
			value = parsed.Data()
		}
	}
	out.Set(key, value)
	return nil
}

func isStructured(key, s string) bool {
	if !strings.HasPrefix(key, "ag.data.") && !strings.HasPrefix(key, "ag.meta.") {
		return false
	}
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}
