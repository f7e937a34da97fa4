package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/ctxutil"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analytics", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryMiddlewareAfterWrite(t *testing.T) {
	h := recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestIdentityMiddleware(t *testing.T) {
	projectID, userID := uuid.New(), uuid.New()
	var gotProject, gotUser uuid.UUID
	h := identityMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotProject = ctxutil.ProjectIDFromContext(r.Context())
		gotUser = ctxutil.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics", nil)
	req.Header.Set(HeaderProjectID, projectID.String())
	req.Header.Set(HeaderUserID, userID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, projectID, gotProject)
	assert.Equal(t, userID, gotUser)
}

func TestIdentityMiddlewareSkipsHealth(t *testing.T) {
	called := false
	h := identityMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}

func TestRequestIDMiddlewareKeepsCallerID(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestAcceptsJSON(t *testing.T) {
	cases := map[string]bool{
		"":                                  false,
		"application/x-protobuf":            false,
		"application/json":                  true,
		"text/html, application/json;q=0.9": true,
	}
	for accept, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/otlp/traces", nil)
		req.Header.Set("Accept", accept)
		assert.Equal(t, want, acceptsJSON(req), accept)
	}
}
