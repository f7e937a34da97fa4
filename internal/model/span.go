package model

import (
	"time"

	"github.com/google/uuid"
)

// SpanKind represents the OTEL span kind in its protobuf enum spelling.
type SpanKind string

const (
	SpanKindUnspecified SpanKind = "SPAN_KIND_UNSPECIFIED"
	SpanKindInternal    SpanKind = "SPAN_KIND_INTERNAL"
	SpanKindServer      SpanKind = "SPAN_KIND_SERVER"
	SpanKindClient      SpanKind = "SPAN_KIND_CLIENT"
	SpanKindProducer    SpanKind = "SPAN_KIND_PRODUCER"
	SpanKindConsumer    SpanKind = "SPAN_KIND_CONSUMER"
)

// StatusCode represents the OTEL span status code.
type StatusCode string

const (
	StatusCodeUnset StatusCode = "STATUS_CODE_UNSET"
	StatusCodeOK    StatusCode = "STATUS_CODE_OK"
	StatusCodeError StatusCode = "STATUS_CODE_ERROR"
)

// Default classifications when no adapter derived one.
const (
	DefaultSpanType  = "task"
	DefaultTraceType = "unknown"
)

// Span is the canonical persisted span. Attributes, events and links are
// replaced wholesale on re-ingest, never merged.
type Span struct {
	ProjectID uuid.UUID `json:"project_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	ParentID  *string   `json:"parent_id,omitempty"`

	TraceType string   `json:"trace_type"`
	SpanType  string   `json:"span_type"`
	SpanKind  SpanKind `json:"span_kind"`
	SpanName  string   `json:"span_name"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	StatusCode    StatusCode `json:"status_code"`
	StatusMessage string     `json:"status_message,omitempty"`

	Attributes map[string]any `json:"attributes"`
	References []Reference    `json:"references,omitempty"`
	Links      []Link         `json:"links,omitempty"`
	Hashes     []Hash         `json:"hashes,omitempty"`
	Events     []SpanEvent    `json:"events,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedByID uuid.UUID  `json:"created_by_id"`
	UpdatedByID *uuid.UUID `json:"updated_by_id,omitempty"`
	DeletedByID *uuid.UUID `json:"deleted_by_id,omitempty"`
}

// Duration returns the wall-clock span of the operation, never negative.
func (s Span) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool {
	return s.ParentID == nil
}

// Reference points a span at a versioned entity it ran against.
type Reference struct {
	Kind    string `json:"kind"`
	ID      string `json:"id,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Version string `json:"version,omitempty"`
}

// Reference kinds.
const (
	ReferenceApplication = "application"
	ReferenceVariant     = "variant"
	ReferenceEnvironment = "environment"
)

// Link connects a span to a span in another (or the same) trace.
type Link struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Hash is a content digest over one part of a span.
type Hash struct {
	Kind  string `json:"kind"`
	Scope string `json:"scope"`
	Value string `json:"value"`
}

// Resource is the deduplicated set of attributes describing the process
// that produced a batch of spans.
type Resource struct {
	ProjectID  uuid.UUID      `json:"project_id"`
	ResourceID string         `json:"resource_id"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
}
