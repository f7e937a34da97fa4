package otlp

import (
	"fmt"
	"math"
	"strconv"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	"google.golang.org/protobuf/encoding/protowire"
)

// DecodeValue converts an OTLP AnyValue into a native Go value:
// string, bool, int64, float64, []byte, []any or map[string]any.
// An unset value decodes to nil. A value whose variant this build does not
// know about decodes to its raw payload rendered as a string. NaN and
// infinite doubles decode to "NaN", "+Inf" and "-Inf" since JSON has no
// representation for them.
func DecodeValue(v *commonpb.AnyValue) any {
	if v == nil {
		return nil
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return finite(val.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return val.BytesValue
	case *commonpb.AnyValue_ArrayValue:
		values := val.ArrayValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, DecodeValue(item))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		return DecodeAttributes(val.KvlistValue.GetValues())
	case nil:
		return unknownValue(v.ProtoReflect().GetUnknown())
	default:
		return fmt.Sprint(val)
	}
}

func finite(x float64) any {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "+Inf"
	case math.IsInf(x, -1):
		return "-Inf"
	}
	return x
}

// DecodeAttributes flattens a key/value list into a map. Later duplicates win.
func DecodeAttributes(kvs []*commonpb.KeyValue) map[string]any {
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[kv.GetKey()] = DecodeValue(kv.GetValue())
	}
	return out
}

// unknownValue renders the first unknown field of an AnyValue as a string.
// Returns nil when there is nothing to render, which is the unset case.
func unknownValue(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	_, typ, n := protowire.ConsumeTag(raw)
	if n < 0 {
		return nil
	}
	raw = raw[n:]
	switch typ {
	case protowire.BytesType:
		b, m := protowire.ConsumeBytes(raw)
		if m < 0 {
			return nil
		}
		return string(b)
	case protowire.VarintType:
		x, m := protowire.ConsumeVarint(raw)
		if m < 0 {
			return nil
		}
		return strconv.FormatUint(x, 10)
	case protowire.Fixed64Type:
		x, m := protowire.ConsumeFixed64(raw)
		if m < 0 {
			return nil
		}
		return strconv.FormatUint(x, 10)
	case protowire.Fixed32Type:
		x, m := protowire.ConsumeFixed32(raw)
		if m < 0 {
			return nil
		}
		return strconv.FormatUint(uint64(x), 10)
	default:
		return nil
	}
}

// EncodeValue is the inverse of DecodeValue for the native types it
// produces. Other integer and float widths are widened; anything else is
// formatted with fmt.
func EncodeValue(v any) *commonpb.AnyValue {
	switch val := v.(type) {
	case nil:
		return &commonpb.AnyValue{}
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: val}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case float32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: val}}
	case []byte:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: val}}
	case []any:
		values := make([]*commonpb.AnyValue, 0, len(val))
		for _, item := range val {
			values = append(values, EncodeValue(item))
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
			ArrayValue: &commonpb.ArrayValue{Values: values},
		}}
	case map[string]any:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{
			KvlistValue: &commonpb.KeyValueList{Values: EncodeAttributes(val)},
		}}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

// EncodeAttributes converts a map into a key/value list.
func EncodeAttributes(m map[string]any) []*commonpb.KeyValue {
	out := make([]*commonpb.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, &commonpb.KeyValue{Key: k, Value: EncodeValue(v)})
	}
	return out
}
