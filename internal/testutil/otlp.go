package testutil

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
)

// SpanSpec describes one span for ExportRequest. Ids are hex strings.
type SpanSpec struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	Kind       tracepb.Span_SpanKind
	Start      time.Time
	End        time.Time
	Status     tracepb.Status_StatusCode
	Attributes map[string]any
	Events     []model.SpanEvent
}

// ExportRequest builds a single-resource, single-scope export request.
func ExportRequest(resource map[string]any, spans ...SpanSpec) *coltracepb.ExportTraceServiceRequest {
	pbSpans := make([]*tracepb.Span, 0, len(spans))
	for _, s := range spans {
		span := &tracepb.Span{
			TraceId:           mustHex(s.TraceID),
			SpanId:            mustHex(s.SpanID),
			Name:              s.Name,
			Kind:              s.Kind,
			StartTimeUnixNano: uint64(s.Start.UnixNano()),
			EndTimeUnixNano:   uint64(s.End.UnixNano()),
			Attributes:        otlp.EncodeAttributes(s.Attributes),
			Status:            &tracepb.Status{Code: s.Status},
		}
		if s.ParentID != "" {
			span.ParentSpanId = mustHex(s.ParentID)
		}
		for _, ev := range s.Events {
			span.Events = append(span.Events, &tracepb.Span_Event{
				Name:         ev.Name,
				TimeUnixNano: uint64(ev.Timestamp.UnixNano()),
				Attributes:   otlp.EncodeAttributes(ev.Attributes),
			})
		}
		pbSpans = append(pbSpans, span)
	}
	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource:   &resourcepb.Resource{Attributes: otlp.EncodeAttributes(resource)},
			ScopeSpans: []*tracepb.ScopeSpans{{Spans: pbSpans}},
		}},
	}
}

// Marshal encodes a protobuf message, failing the test on error.
func Marshal(t testing.TB, msg proto.Message) []byte {
	t.Helper()
	b, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("testutil: marshal: %v", err)
	}
	return b
}

// Gzip compresses b, failing the test on error.
func Gzip(t testing.TB, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatalf("testutil: gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("testutil: gzip close: %v", err)
	}
	return buf.Bytes()
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("testutil: invalid hex id " + s)
	}
	return b
}
