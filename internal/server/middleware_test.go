// ABOUTME: Tests for CORS, request ID and compression middleware.
// ABOUTME: Exercises the middleware through the server's full handler chain.

package server

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/taskd/internal/config"
)

func preflight(t *testing.T, s *Server, origin, method string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodOptions, "/task", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCORS_PreflightAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	for _, origin := range []string{"http://localhost:3000", "http://localhost", "http://localhost.example.com", "null"} {
		t.Run(origin, func(t *testing.T) {
			rec := preflight(t, s, origin, http.MethodPost)
			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
		})
	}
}

func TestCORS_PreflightRejected(t *testing.T) {
	s, _ := newTestServer(t)

	for _, origin := range []string{"https://localhost:3000", "http://example.com", "http://127.0.0.1:3000"} {
		t.Run(origin, func(t *testing.T) {
			rec := preflight(t, s, origin, http.MethodPost)
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORS_SimpleRequest(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	// The request itself is still served; the browser withholds the response.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	cfg := config.Default().CORS

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:8081", true},
		{"null", true},
		{"", false},
		{"https://localhost", false},
		{"http://127.0.0.1", false},
	}
	for _, tt := range tests {
		if got := originAllowed(cfg, tt.origin); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	cfg.AllowNullOrigin = false
	assert.False(t, originAllowed(cfg, "null"))

	cfg.AllowedOriginPrefixes = []string{"https://app.example.com"}
	assert.True(t, originAllowed(cfg, "https://app.example.com"))
	assert.False(t, originAllowed(cfg, "http://localhost:3000"))
}

func TestRequestID_Generated(t *testing.T) {
	s, _ := newTestServer(t)

	first := do(t, s, http.MethodGet, "/health", "")
	second := do(t, s, http.MethodGet, "/health", "")

	id := first.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, second.Header().Get(RequestIDHeader))
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	h := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "client-abc", seen)
	assert.Equal(t, "client-abc", rec.Header().Get(RequestIDHeader))

	// Oversized ids are replaced
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 129))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}

func TestCompression(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 1; i <= 100; i++ {
		body := fmt.Sprintf(`{"id":%d,"name":"a reasonably long task name number %d","completed":false}`, i, i)
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/task", body).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(plain), "["))
}

func TestCompression_DistinctETag(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 1; i <= 100; i++ {
		body := fmt.Sprintf(`{"id":%d,"name":"a reasonably long task name number %d","completed":false}`, i, i)
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/task", body).Code)
	}

	identity := do(t, s, http.MethodGet, "/task", "")
	require.Equal(t, http.StatusOK, identity.Code)
	require.Greater(t, identity.Body.Len(), 1024)
	plainTag := identity.Header().Get("ETag")
	require.NotEmpty(t, plainTag)

	req := httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gzipTag := rec.Header().Get("ETag")
	assert.NotEqual(t, plainTag, gzipTag)
	assert.Equal(t, strings.TrimSuffix(plainTag, `"`)+`-gzip"`, gzipTag)

	// A cached gzip representation still revalidates
	req = httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("If-None-Match", gzipTag)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestCompression_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Compress = false
	s, _ := newTestServer(t)
	s = NewWithHandle(cfg, s.handle, testLogger())

	for i := 1; i <= 100; i++ {
		body := fmt.Sprintf(`{"id":%d,"name":"a reasonably long task name number %d","completed":false}`, i, i)
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/task", body).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/task", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}
