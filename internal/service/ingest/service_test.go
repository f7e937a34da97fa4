package ingest_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
	"github.com/ashita-ai/tsuiseki/internal/semconv"
	"github.com/ashita-ai/tsuiseki/internal/service/ingest"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

const (
	traceID = "5b8efff798038103d269b633813fc60c"
	rootID  = "eee19b7ec3c1b174"
	childID = "eee19b7ec3c1b173"
)

type fakeWriter struct {
	mu        sync.Mutex
	calls     int
	failures  []error
	spans     []model.Span
	resources []model.Resource
}

func (f *fakeWriter) WriteSpans(_ context.Context, _ uuid.UUID, resources []model.Resource, spans []model.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	f.resources = append(f.resources, resources...)
	f.spans = append(f.spans, spans...)
	return nil
}

func newService(w ingest.SpanWriter) *ingest.Service {
	logger := testutil.TestLogger()
	return ingest.New(otlp.NewDecoder(logger, 0), semconv.DefaultRegistry(logger), w, logger)
}

func llmBatch(t *testing.T) []byte {
	t.Helper()
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	req := testutil.ExportRequest(
		map[string]any{"service.name": "chatbot", "ag.refs.environment.slug": "prod"},
		testutil.SpanSpec{
			TraceID: traceID, SpanID: rootID, Name: "llm_call",
			Kind:  tracepb.Span_SPAN_KIND_CLIENT,
			Start: start, End: start.Add(2 * time.Second),
			Attributes: map[string]any{
				"gen_ai.usage.prompt_tokens":     int64(10),
				"gen_ai.usage.completion_tokens": int64(5),
			},
		},
		testutil.SpanSpec{
			TraceID: traceID, SpanID: childID, ParentID: rootID, Name: "tool_call",
			Kind:  tracepb.Span_SPAN_KIND_INTERNAL,
			Start: start.Add(time.Second), End: start.Add(1500 * time.Millisecond),
		},
	)
	return testutil.Marshal(t, req)
}

func TestIngest_LLMCallWithToolCall(t *testing.T) {
	w := &fakeWriter{}
	svc := newService(w)
	projectID, userID := uuid.New(), uuid.New()

	res, err := svc.Ingest(context.Background(), projectID, userID, llmBatch(t))
	require.NoError(t, err)
	require.Len(t, res.Spans, 2)
	assert.Equal(t, 1, w.calls)
	assert.Len(t, w.spans, 2)

	root := res.Spans[0]
	assert.Equal(t, "llm_call", root.SpanName)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, model.SpanKindClient, root.SpanKind)
	assert.Equal(t, model.StatusCodeUnset, root.StatusCode)
	assert.Equal(t, projectID, root.ProjectID)
	assert.Equal(t, userID, root.CreatedByID)

	attrs := gabs.Wrap(root.Attributes)
	assert.EqualValues(t, 10, attrs.Path("ag.metrics.unit.tokens.prompt").Data())
	assert.EqualValues(t, 5, attrs.Path("ag.metrics.unit.tokens.completion").Data())
	assert.EqualValues(t, 15, attrs.Path("ag.metrics.unit.tokens.total").Data())
	assert.Nil(t, attrs.Path("ag.type.node").Data())
	assert.Equal(t, semconv.NodeTask, root.SpanType)
	assert.NotEmpty(t, attrs.Path("ag.refs.resource_id").Data())
	assert.InDelta(t, 15, attrs.Path("ag.metrics.acc.tokens.total").Data(), 1e-9)
	assert.InDelta(t, 2500, attrs.Path("ag.metrics.acc.duration.cumulative").Data(), 1e-9)

	require.Len(t, root.References, 1)
	assert.Equal(t, model.ReferenceEnvironment, root.References[0].Kind)
	assert.Equal(t, "prod", root.References[0].Slug)

	child := res.Spans[1]
	require.NotNil(t, child.ParentID)
	assert.Equal(t, rootID, *child.ParentID)
	assert.Equal(t, model.SpanKindInternal, child.SpanKind)

	tr := res.Trees[traceID]
	require.NotNil(t, tr)
	require.Len(t, tr.Nodes["llm_call"], 1)
	nested := tr.Nodes["llm_call"][0].Nodes["tool_call"]
	require.Len(t, nested, 1)
	assert.Equal(t, childID, nested[0].SpanID)

	require.Len(t, res.Resources, 1)
	assert.Equal(t, map[string]any{"service.name": "chatbot"}, res.Resources[0].Attributes)
	assert.Equal(t, res.Resources[0].ResourceID, attrs.Path("ag.refs.resource_id").Data())
}

func TestIngest_HashesCoverAccumulatedAttributes(t *testing.T) {
	svc := newService(&fakeWriter{})
	res, err := svc.Ingest(context.Background(), uuid.New(), uuid.New(), llmBatch(t))
	require.NoError(t, err)

	for _, s := range res.Spans {
		scopes := make(map[string]bool)
		for _, h := range s.Hashes {
			scopes[h.Scope] = true
			assert.Equal(t, "sha256", h.Kind)
			assert.Len(t, h.Value, 64)
		}
		assert.True(t, scopes["attributes"])
		assert.True(t, scopes["span"])
	}
}

func TestIngest_NonFiniteDoublesAreStoredAsStrings(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	req := testutil.ExportRequest(
		map[string]any{"service.name": "chatbot", "host.load": math.Inf(1)},
		testutil.SpanSpec{
			TraceID: traceID, SpanID: rootID, Name: "root",
			Start: start, End: start.Add(time.Second),
		},
		testutil.SpanSpec{
			TraceID: traceID, SpanID: childID, ParentID: rootID, Name: "scorer",
			Start: start, End: start.Add(500 * time.Millisecond),
			Attributes: map[string]any{"ag.meta.score": math.NaN()},
		},
	)
	w := &fakeWriter{}
	res, err := newService(w).Ingest(context.Background(), uuid.New(), uuid.New(), testutil.Marshal(t, req))
	require.NoError(t, err)
	require.Len(t, res.Spans, 2)
	assert.Len(t, w.spans, 2)

	child := res.Spans[1]
	assert.Equal(t, "NaN", gabs.Wrap(child.Attributes).Path("ag.meta.score").Data())
	assert.NotEmpty(t, child.Hashes)
	require.Len(t, res.Resources, 1)
	assert.Equal(t, "+Inf", res.Resources[0].Attributes["host.load"])
}

func TestIngest_SameBatchSameResourceID(t *testing.T) {
	svc := newService(&fakeWriter{})
	a, err := svc.Ingest(context.Background(), uuid.New(), uuid.New(), llmBatch(t))
	require.NoError(t, err)
	b, err := svc.Ingest(context.Background(), uuid.New(), uuid.New(), llmBatch(t))
	require.NoError(t, err)
	assert.Equal(t, a.Resources[0].ResourceID, b.Resources[0].ResourceID)
}

func TestIngest_DecodeErrorPersistsNothing(t *testing.T) {
	w := &fakeWriter{}
	svc := newService(w)

	_, err := svc.Ingest(context.Background(), uuid.New(), uuid.New(), []byte{0xff, 0xff, 0xff, 0x01})
	var decodeErr *otlp.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Zero(t, w.calls)
}

func TestIngest_EmptyPayload(t *testing.T) {
	w := &fakeWriter{}
	res, err := newService(w).Ingest(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Spans)
	assert.Zero(t, w.calls)
}

func TestIngest_RequiresIdentity(t *testing.T) {
	svc := newService(&fakeWriter{})
	_, err := svc.Ingest(context.Background(), uuid.Nil, uuid.New(), llmBatch(t))
	assert.ErrorIs(t, err, ingest.ErrInvalidIdentity)
	_, err = svc.Ingest(context.Background(), uuid.New(), uuid.Nil, llmBatch(t))
	assert.ErrorIs(t, err, ingest.ErrInvalidIdentity)
}

func TestIngest_RetriesConcurrentReplace(t *testing.T) {
	w := &fakeWriter{failures: []error{
		&pgconn.PgError{Code: "23505", ConstraintName: "spans_live_identity_idx"},
	}}
	_, err := newService(w).Ingest(context.Background(), uuid.New(), uuid.New(), llmBatch(t))
	require.NoError(t, err)
	assert.Equal(t, 2, w.calls)
	assert.Len(t, w.spans, 2)
}

func TestIngest_StorageErrorsPropagate(t *testing.T) {
	boom := errors.New("disk full")
	w := &fakeWriter{failures: []error{boom}}
	_, err := newService(w).Ingest(context.Background(), uuid.New(), uuid.New(), llmBatch(t))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, w.calls)
}

func TestIngest_GzipPayload(t *testing.T) {
	w := &fakeWriter{}
	res, err := newService(w).Ingest(context.Background(), uuid.New(), uuid.New(), testutil.Gzip(t, llmBatch(t)))
	require.NoError(t, err)
	assert.Len(t, res.Spans, 2)
}

func TestProcess_ResourceAgKeysYieldToSpan(t *testing.T) {
	svc := newService(&fakeWriter{})
	raws := []otlp.RawSpan{{
		TraceID: traceID, SpanID: rootID, Name: "workflow",
		Resource:   map[string]any{"ag.type.trace": "invocation", "ag.tags.team": "infra"},
		Attributes: map[string]any{"ag.tags.team": "search"},
		Scope:      otlp.Scope{Name: "openllmetry", Version: "0.40.0"},
	}}

	res, err := svc.Process(context.Background(), uuid.New(), uuid.New(), raws)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)

	s := res.Spans[0]
	assert.Equal(t, "invocation", s.TraceType)
	attrs := gabs.Wrap(s.Attributes)
	assert.Equal(t, "search", attrs.Path("ag.tags.team").Data())
	semconvNS, ok := s.Attributes["ag"].(map[string]any)["semconv"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "openllmetry", semconvNS["otel.scope.name"])
	assert.Equal(t, "0.40.0", semconvNS["otel.scope.version"])
}
