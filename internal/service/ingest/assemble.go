package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsuiseki/internal/integrity"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
	"github.com/ashita-ai/tsuiseki/internal/semconv"
)

var referenceKinds = []string{
	model.ReferenceApplication,
	model.ReferenceVariant,
	model.ReferenceEnvironment,
}

// Assemble builds the canonical span from a decoded span and the features
// the adapters produced for it. features is stamped with the resource id.
func Assemble(raw otlp.RawSpan, features *semconv.Features, resourceID string, projectID, userID uuid.UUID, now time.Time) (model.Span, error) {
	features.Set(semconv.KeyResourceID, resourceID)

	span := model.Span{
		ProjectID:     projectID,
		TraceID:       raw.TraceID,
		SpanID:        raw.SpanID,
		TraceType:     stringFeature(features, semconv.KeyTypeTrace, model.DefaultTraceType),
		SpanType:      stringFeature(features, semconv.KeyTypeNode, model.DefaultSpanType),
		SpanKind:      raw.Kind,
		SpanName:      raw.Name,
		StartTime:     raw.StartTime,
		EndTime:       raw.EndTime,
		StatusCode:    raw.StatusCode,
		StatusMessage: raw.StatusMessage,
		Attributes:    features.Tree(),
		References:    references(features),
		Events:        raw.Events,
		Links:         raw.Links,
		CreatedAt:     now,
		CreatedByID:   userID,
	}
	if raw.HasParent() {
		parent := raw.ParentSpanID
		span.ParentID = &parent
	}
	if span.SpanKind == "" {
		span.SpanKind = model.SpanKindUnspecified
	}
	if span.StatusCode == "" {
		span.StatusCode = model.StatusCodeUnset
	}

	hashes, err := integrity.SpanHashes(span.Attributes, span.Events, span.Links)
	if err != nil {
		return model.Span{}, fmt.Errorf("ingest: hash span %s: %w", span.SpanID, err)
	}
	span.Hashes = hashes
	return span, nil
}

func stringFeature(f *semconv.Features, key, def string) string {
	v, ok := f.Get(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// references collects ag.refs.<kind>.{id,slug,version} into typed references.
func references(f *semconv.Features) []model.Reference {
	var out []model.Reference
	for _, kind := range referenceKinds {
		prefix := semconv.CanonicalPrefix + semconv.NamespaceRefs + "." + kind + "."
		ref := model.Reference{
			Kind:    kind,
			ID:      refValue(f, prefix+"id"),
			Slug:    refValue(f, prefix+"slug"),
			Version: refValue(f, prefix+"version"),
		}
		if ref.ID == "" && ref.Slug == "" && ref.Version == "" {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// refValue renders a reference field. Versions often arrive as integers.
func refValue(f *semconv.Features, key string) string {
	v, ok := f.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
