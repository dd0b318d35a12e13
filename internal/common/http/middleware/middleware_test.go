package middleware_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proofjudge/internal/common/http/middleware"
	pkgerrors "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorResponse struct {
	Detail  string `json:"detail"`
	Code    int    `json:"code"`
	TraceID string `json:"trace_id"`
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	return router
}

func TestTraceContextMiddleware(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"trace_id":       c.GetString("trace_id"),
			"request_id":     c.GetString("request_id"),
			"ctx_trace_id":   ctx.Value(contextkey.TraceID),
			"ctx_request_id": ctx.Value(contextkey.RequestID),
		})
	})

	cases := []struct {
		name      string
		headers   map[string]string
		traceID   string
		requestID string
	}{
		{name: "generate ids"},
		{
			name:      "preserve caller ids",
			headers:   map[string]string{"X-Trace-Id": "trace-123", "X-Request-Id": "req-123"},
			traceID:   "trace-123",
			requestID: "req-123",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp["trace_id"])
			assert.NotEmpty(t, resp["request_id"])
			assert.Equal(t, resp["trace_id"], resp["ctx_trace_id"])
			assert.Equal(t, resp["request_id"], resp["ctx_request_id"])
			assert.Equal(t, resp["trace_id"], rec.Header().Get("X-Trace-Id"))
			assert.Equal(t, resp["request_id"], rec.Header().Get("X-Request-Id"))
			if tc.traceID != "" {
				assert.Equal(t, tc.traceID, resp["trace_id"])
				assert.Equal(t, tc.requestID, resp["request_id"])
			}
		})
	}
}

func echoBody(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.String(http.StatusOK, string(data))
}

func TestGzipRequestMiddleware(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware(), middleware.GzipRequestMiddleware(0))
	router.POST("/echo", echoBody)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"solution_text":"x"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"solution_text":"x"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("plain"))
	router.ServeHTTP(rec, req)
	assert.Equal(t, "plain", rec.Body.String())
}

func TestGzipRequestMiddlewareRejectsBadStream(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware(), middleware.GzipRequestMiddleware(0))
	router.POST("/echo", echoBody)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int(pkgerrors.InvalidFormat), resp.Code)
	assert.NotEmpty(t, resp.TraceID)
}

func TestGzipRequestMiddlewareCapsInflatedSize(t *testing.T) {
	router := newRouter(middleware.GzipRequestMiddleware(4))
	router.POST("/echo", echoBody)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("abcdefgh"))
	require.NoError(t, zw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abcd", rec.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitPolicy{RPS: 0.001, Burst: 2})
	router := newRouter(middleware.RateLimitMiddleware(limiter))
	router.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = ip + ":1234"
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("192.0.2.1").Code)
	assert.Equal(t, http.StatusOK, do("192.0.2.1").Code)

	rec := do("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int(pkgerrors.TooManyRequests), resp.Code)

	assert.Equal(t, http.StatusOK, do("192.0.2.2").Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitPolicy{})
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow("k"))
	}
	var nilLimiter *middleware.RateLimiter
	assert.True(t, nilLimiter.Allow("k"))
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitPolicy{RPS: 0.001, Burst: 1, IdleTTL: time.Millisecond})
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	time.Sleep(5 * time.Millisecond)
	// a new key sweeps idle buckets, so "a" starts over with a full bucket
	assert.True(t, limiter.Allow("b"))
	assert.True(t, limiter.Allow("a"))
}
