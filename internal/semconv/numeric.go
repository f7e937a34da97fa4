package semconv

import (
	"encoding/json"
	"strconv"
)

// ToFloat converts the numeric shapes attribute values arrive in. Strings
// are parsed since some SDKs stringify counters.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AddNumbers adds two attribute values, keeping int64 when both are int64.
func AddNumbers(a, b any) (any, bool) {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		return ai + bi, true
	}
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if !aok || !bok {
		return nil, false
	}
	return af + bf, true
}
