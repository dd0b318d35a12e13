package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"proofjudge/pkg/utils/contextkey"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	RequestID  string
}

// Options tune the transport.
type Options struct {
	Timeout time.Duration
	// CompressThreshold gzips request bodies at least this large. Zero disables compression.
	CompressThreshold int
	TokenProvider     func() string
}

// Client is a thin JSON-over-HTTP transport for the evaluation service.
type Client struct {
	mu                sync.RWMutex
	baseURL           string
	httpClient        *http.Client
	compressThreshold int
	tokenProvider     func() string
}

func New(baseURL string, opts Options) *Client {
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        &http.Client{Timeout: opts.Timeout},
		compressThreshold: opts.CompressThreshold,
		tokenProvider:     opts.TokenProvider,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = &http.Client{Timeout: timeout}
}

func (c *Client) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient.Timeout
}

// Do sends one request. A non-nil error means no HTTP response was received;
// any status code, including 4xx/5xx, is returned in ResponseInfo.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo

	c.mu.RLock()
	baseURL := c.baseURL
	client := c.httpClient
	c.mu.RUnlock()

	payload, compressed, err := c.encodeBody(body)
	if err != nil {
		return info, err
	}
	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	info.RequestID = uuid.NewString()
	req.Header.Set(RequestIDHeader, info.RequestID)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		req.Header.Set(TraceIDHeader, traceID)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.tokenProvider != nil {
		if token := c.tokenProvider(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

func (c *Client) encodeBody(body []byte) ([]byte, bool, error) {
	if c.compressThreshold <= 0 || len(body) < c.compressThreshold {
		return body, false, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, false, fmt.Errorf("compress request body failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("compress request body failed: %w", err)
	}
	return buf.Bytes(), true, nil
}
