// Package otlp decodes OTLP/HTTP trace export payloads into flat spans.
package otlp

import (
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Scope identifies the instrumentation library that emitted a span.
type Scope struct {
	Name    string
	Version string
}

// RawSpan is one span as it arrived on the wire, with ids hex-encoded and
// timestamps normalized to UTC microseconds.
type RawSpan struct {
	TraceID      string
	SpanID       string
	ParentSpanID string // empty when the span has no parent

	Name          string
	Kind          model.SpanKind
	StartTime     time.Time
	EndTime       time.Time
	StatusCode    model.StatusCode
	StatusMessage string

	Attributes map[string]any
	Events     []model.SpanEvent
	Links      []model.Link

	// Resource holds the attributes of the resource group the span came from.
	Resource map[string]any
	Scope    Scope
}

// HasParent reports whether the wire carried a non-empty parent span id.
func (s RawSpan) HasParent() bool {
	return s.ParentSpanID != ""
}

// Decoder turns raw request bodies into spans.
type Decoder struct {
	logger          *slog.Logger
	maxDecompressed int64
}

// NewDecoder creates a decoder. maxDecompressed bounds the inflated size of
// compressed payloads; <= 0 means unbounded.
func NewDecoder(logger *slog.Logger, maxDecompressed int64) *Decoder {
	return &Decoder{logger: logger, maxDecompressed: maxDecompressed}
}

// Decode decompresses payload if needed and parses it as an
// ExportTraceServiceRequest, falling back to a bare TracesData message.
// Decompression failures are logged and the original bytes are parsed as-is.
func (d *Decoder) Decode(payload []byte) ([]RawSpan, error) {
	data, err := Decompress(payload, d.maxDecompressed)
	if err != nil {
		d.logger.Warn("otlp: decompression failed, parsing original bytes",
			"encoding", DetectEncoding(payload).String(),
			"bytes", len(payload),
			"error", err)
		data = payload
	}

	var req coltracepb.ExportTraceServiceRequest
	primaryErr := proto.Unmarshal(data, &req)
	if primaryErr == nil {
		return flatten(req.GetResourceSpans()), nil
	}

	var legacy tracepb.TracesData
	if err := proto.Unmarshal(data, &legacy); err == nil {
		d.logger.Debug("otlp: parsed legacy TracesData payload", "bytes", len(data))
		return flatten(legacy.GetResourceSpans()), nil
	}

	return nil, &DecodeError{Offset: corruptOffset(data), Cause: primaryErr}
}

func flatten(groups []*tracepb.ResourceSpans) []RawSpan {
	var out []RawSpan
	for _, rs := range groups {
		resource := DecodeAttributes(rs.GetResource().GetAttributes())
		for _, ss := range rs.GetScopeSpans() {
			scope := Scope{
				Name:    ss.GetScope().GetName(),
				Version: ss.GetScope().GetVersion(),
			}
			for _, span := range ss.GetSpans() {
				out = append(out, convertSpan(span, resource, scope))
			}
		}
	}
	return out
}

func convertSpan(span *tracepb.Span, resource map[string]any, scope Scope) RawSpan {
	raw := RawSpan{
		TraceID:       hex.EncodeToString(span.GetTraceId()),
		SpanID:        hex.EncodeToString(span.GetSpanId()),
		ParentSpanID:  parentID(span.GetParentSpanId()),
		Name:          span.GetName(),
		Kind:          spanKind(span.GetKind()),
		StartTime:     unixNano(span.GetStartTimeUnixNano()),
		EndTime:       unixNano(span.GetEndTimeUnixNano()),
		StatusCode:    statusCode(span.GetStatus()),
		StatusMessage: span.GetStatus().GetMessage(),
		Attributes:    DecodeAttributes(span.GetAttributes()),
		Resource:      resource,
		Scope:         scope,
	}
	for _, ev := range span.GetEvents() {
		raw.Events = append(raw.Events, model.SpanEvent{
			Name:       ev.GetName(),
			Timestamp:  unixNano(ev.GetTimeUnixNano()),
			Attributes: DecodeAttributes(ev.GetAttributes()),
		})
	}
	for _, link := range span.GetLinks() {
		raw.Links = append(raw.Links, model.Link{
			TraceID:    hex.EncodeToString(link.GetTraceId()),
			SpanID:     hex.EncodeToString(link.GetSpanId()),
			Attributes: DecodeAttributes(link.GetAttributes()),
		})
	}
	return raw
}

// parentID encodes a parent span id, mapping empty and all-zero ids to "".
func parentID(b []byte) string {
	for _, c := range b {
		if c != 0 {
			return hex.EncodeToString(b)
		}
	}
	return ""
}

// unixNano converts an OTLP timestamp. Values past the int64 range are
// treated as unset.
func unixNano(ns uint64) time.Time {
	if ns > math.MaxInt64 {
		ns = 0
	}
	return time.Unix(0, int64(ns)).UTC().Truncate(time.Microsecond)
}

var spanKinds = map[tracepb.Span_SpanKind]model.SpanKind{
	tracepb.Span_SPAN_KIND_UNSPECIFIED: model.SpanKindUnspecified,
	tracepb.Span_SPAN_KIND_INTERNAL:    model.SpanKindInternal,
	tracepb.Span_SPAN_KIND_SERVER:      model.SpanKindServer,
	tracepb.Span_SPAN_KIND_CLIENT:      model.SpanKindClient,
	tracepb.Span_SPAN_KIND_PRODUCER:    model.SpanKindProducer,
	tracepb.Span_SPAN_KIND_CONSUMER:    model.SpanKindConsumer,
}

func spanKind(k tracepb.Span_SpanKind) model.SpanKind {
	if kind, ok := spanKinds[k]; ok {
		return kind
	}
	return model.SpanKindUnspecified
}

func statusCode(s *tracepb.Status) model.StatusCode {
	switch s.GetCode() {
	case tracepb.Status_STATUS_CODE_OK:
		return model.StatusCodeOK
	case tracepb.Status_STATUS_CODE_ERROR:
		return model.StatusCodeError
	default:
		return model.StatusCodeUnset
	}
}
