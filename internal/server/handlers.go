package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/tsuiseki/internal/ctxutil"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
	"github.com/ashita-ai/tsuiseki/internal/service/analytics"
	"github.com/ashita-ai/tsuiseki/internal/service/ingest"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/tree"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"

	defaultAnalyticsWindow   = 24 * time.Hour
	defaultAnalyticsInterval = 60
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	ingestSvc           *ingest.Service
	analyticsSvc        *analytics.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	IngestSvc           *ingest.Service
	AnalyticsSvc        *analytics.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		ingestSvc:           d.IngestSvc,
		analyticsSvc:        d.AnalyticsSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// ingestResponse is the JSON body of a synchronous OTLP export.
type ingestResponse struct {
	Spans []model.Span          `json:"spans"`
	Trees map[string]*tree.Tree `json:"trees"`
}

// HandleOTLPTraces handles POST /v1/otlp/traces.
func (h *Handlers) HandleOTLPTraces(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt == contentTypeJSON {
			writeError(w, r, http.StatusUnsupportedMediaType, model.ErrCodeUnsupportedMediaType,
				"only protobuf-encoded OTLP is accepted")
			return
		}
	}

	var body io.Reader = r.Body
	if h.maxRequestBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}

	ctx := r.Context()
	res, err := h.ingestSvc.Ingest(ctx, ctxutil.ProjectIDFromContext(ctx), ctxutil.UserIDFromContext(ctx), payload)
	if err != nil {
		h.handleIngestError(w, r, err)
		return
	}

	if acceptsJSON(r) {
		writeJSON(w, r, http.StatusOK, ingestResponse{Spans: res.Spans, Trees: res.Trees})
		return
	}
	writeProto(w, http.StatusOK, &coltracepb.ExportTraceServiceResponse{})
}

func (h *Handlers) handleIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var decodeErr *otlp.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		writeErrorDetails(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed OTLP payload",
			model.DecodeErrorDetail{Offset: decodeErr.Offset, Cause: decodeErr.Cause.Error()})
	case errors.Is(err, ingest.ErrInvalidIdentity):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	default:
		h.logger.Error("otlp ingest failed", "error", err,
			"request_id", ctxutil.RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to ingest traces")
	}
}

// HandleGetTrace handles GET /v1/traces/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := strings.ToLower(r.PathValue("trace_id"))
	if traceID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "trace_id is required")
		return
	}

	spans, err := h.db.GetTraceSpans(r.Context(), ctxutil.ProjectIDFromContext(r.Context()), traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.logger.Error("get trace failed", "error", err, "trace_id", traceID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load trace")
		return
	}

	writeJSON(w, r, http.StatusOK, tree.Build(spans)[traceID])
}

// HandleAnalytics handles GET /v1/analytics.
// Query: from, to (RFC3339, default the last 24h), interval (minutes,
// default 60), fill (bool, include empty buckets).
func (h *Handlers) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	// Minute-aligned default so repeated dashboard polls share a cache key.
	end := time.Now().UTC().Truncate(time.Minute)
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultAnalyticsWindow)
	if from != nil {
		start = *from
	}

	fill, _ := strconv.ParseBool(r.URL.Query().Get("fill"))
	buckets, err := h.analyticsSvc.Buckets(r.Context(), analytics.Query{
		ProjectID: ctxutil.ProjectIDFromContext(r.Context()),
		From:      start,
		To:        end,
		Interval:  queryInt(r, "interval", defaultAnalyticsInterval),
		Fill:      fill,
	})
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidQuery) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.logger.Error("analytics query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to compute analytics")
		return
	}
	if buckets == nil {
		buckets = []model.Bucket{}
	}
	writeJSON(w, r, http.StatusOK, buckets)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func acceptsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(part)); err == nil && mt == contentTypeJSON {
			return true
		}
	}
	return false
}

func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	b, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return &t, nil
}
