// Package ingest turns OTLP export payloads into canonical spans: decode,
// adapt, assemble, accumulate, persist. Each call is self-contained and
// writes its batch in one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tsuiseki/internal/integrity"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
	"github.com/ashita-ai/tsuiseki/internal/semconv"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
	"github.com/ashita-ai/tsuiseki/internal/tree"
)

const (
	writeRetries    = 3
	writeRetryDelay = 20 * time.Millisecond
)

// ErrInvalidIdentity is returned when the caller's project or user id is missing.
var ErrInvalidIdentity = errors.New("ingest: project and user identity required")

// SpanWriter persists one batch atomically.
type SpanWriter interface {
	WriteSpans(ctx context.Context, projectID uuid.UUID, resources []model.Resource, spans []model.Span) error
}

// Result is what one ingest call produced.
type Result struct {
	Spans     []model.Span
	Resources []model.Resource
	Trees     map[string]*tree.Tree
}

// Service runs the ingestion pipeline.
type Service struct {
	decoder  *otlp.Decoder
	registry *semconv.Registry
	store    SpanWriter
	logger   *slog.Logger
	now      func() time.Time

	spansIngested   metric.Int64Counter
	decodeFailures  metric.Int64Counter
	adapterFailures metric.Int64Counter
}

// New creates an ingest Service.
func New(decoder *otlp.Decoder, registry *semconv.Registry, store SpanWriter, logger *slog.Logger) *Service {
	meter := telemetry.Meter("tsuiseki/ingest")
	spans, _ := meter.Int64Counter("tsuiseki.ingest.spans",
		metric.WithDescription("Spans persisted by OTLP ingestion"),
	)
	decodeFailures, _ := meter.Int64Counter("tsuiseki.ingest.decode_failures",
		metric.WithDescription("OTLP payloads rejected by the wire decoder"),
	)
	adapterFailures, _ := meter.Int64Counter("tsuiseki.ingest.adapter_failures",
		metric.WithDescription("Adapter contributions dropped after an adapter error"),
	)
	return &Service{
		decoder:         decoder,
		registry:        registry,
		store:           store,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		spansIngested:   spans,
		decodeFailures:  decodeFailures,
		adapterFailures: adapterFailures,
	}
}

// Ingest decodes payload and persists every span in it for projectID.
// Decode failures return an *otlp.DecodeError before anything is written.
func (s *Service) Ingest(ctx context.Context, projectID, userID uuid.UUID, payload []byte) (*Result, error) {
	if projectID == uuid.Nil || userID == uuid.Nil {
		return nil, ErrInvalidIdentity
	}

	raws, err := s.decoder.Decode(payload)
	if err != nil {
		s.decodeFailures.Add(ctx, 1)
		return nil, fmt.Errorf("ingest: %w", err)
	}

	res, err := s.Process(ctx, projectID, userID, raws)
	if err != nil {
		return nil, err
	}
	if len(res.Spans) == 0 {
		return res, nil
	}

	err = storage.WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		return s.store.WriteSpans(ctx, projectID, res.Resources, res.Spans)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: write spans: %w", err)
	}
	s.spansIngested.Add(ctx, int64(len(res.Spans)))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tsuiseki.project_id", projectID.String()),
		attribute.Int("tsuiseki.span_count", len(res.Spans)),
		attribute.Int("tsuiseki.trace_count", len(res.Trees)),
	)
	s.logger.Debug("ingest: batch persisted",
		"project_id", projectID,
		"spans", len(res.Spans),
		"traces", len(res.Trees),
		"resources", len(res.Resources))
	return res, nil
}

// Process runs adapters and assembly over decoded spans without persisting.
func (s *Service) Process(ctx context.Context, projectID, userID uuid.UUID, raws []otlp.RawSpan) (*Result, error) {
	now := s.now()
	res := &Result{Spans: make([]model.Span, 0, len(raws))}
	seen := make(map[string]bool)

	for _, raw := range raws {
		resourceID, err := integrity.ResourceID(raw.Resource)
		if err != nil {
			return nil, fmt.Errorf("ingest: resource id: %w", err)
		}
		if !seen[resourceID] {
			seen[resourceID] = true
			res.Resources = append(res.Resources, model.Resource{
				ProjectID:  projectID,
				ResourceID: resourceID,
				Attributes: integrity.PublicAttributes(raw.Resource),
				CreatedAt:  now,
			})
		}

		features, failures := s.registry.Process(semconv.NewBag(spanAttributes(raw), raw.Events))
		if len(failures) > 0 {
			s.adapterFailures.Add(ctx, int64(len(failures)))
		}

		span, err := Assemble(raw, features, resourceID, projectID, userID, now)
		if err != nil {
			return nil, err
		}
		res.Spans = append(res.Spans, span)
	}

	// Accumulated metrics change the attributes, so the hashes are redone.
	tree.Accumulate(res.Spans)
	for i := range res.Spans {
		sp := &res.Spans[i]
		hashes, err := integrity.SpanHashes(sp.Attributes, sp.Events, sp.Links)
		if err != nil {
			return nil, fmt.Errorf("ingest: hash span %s: %w", sp.SpanID, err)
		}
		sp.Hashes = hashes
	}
	res.Trees = tree.Build(res.Spans)
	return res, nil
}

// spanAttributes overlays the span's own attributes on the ag.* keys of its
// resource, and records the instrumentation scope when the SDK did not.
func spanAttributes(raw otlp.RawSpan) map[string]any {
	attrs := make(map[string]any, len(raw.Attributes)+2)
	for k, v := range raw.Resource {
		if strings.HasPrefix(k, semconv.CanonicalPrefix) {
			attrs[k] = v
		}
	}
	for k, v := range raw.Attributes {
		attrs[k] = v
	}
	if raw.Scope.Name != "" {
		if _, ok := attrs["otel.scope.name"]; !ok {
			attrs["otel.scope.name"] = raw.Scope.Name
		}
	}
	if raw.Scope.Version != "" {
		if _, ok := attrs["otel.scope.version"]; !ok {
			attrs["otel.scope.version"] = raw.Scope.Version
		}
	}
	return attrs
}
