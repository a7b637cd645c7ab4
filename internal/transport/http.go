package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/probefire/internal/tracing"
)

const (
	// MaxBodySize caps how much of a response body is read.
	MaxBodySize = 1 << 20

	// DefaultTimeout bounds requests that carry no Timeout.
	DefaultTimeout = 30 * time.Second
)

// HTTP executes requests over net/http. It never retries.
type HTTP struct {
	client    *http.Client
	tracer    trace.Tracer
	propagate bool
}

// HTTPOption customizes an HTTP transport.
type HTTPOption func(*HTTP)

// WithClient replaces the default pooled client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTracing records one client span per Execute and injects W3C trace
// context when the provider asks for it.
func WithTracing(p *tracing.Provider) HTTPOption {
	return func(h *HTTP) {
		if p == nil {
			return
		}
		h.tracer = p.Tracer()
		h.propagate = p.ShouldPropagate()
	}
}

// NewHTTP returns a transport backed by NewClient with no client-level timeout.
// Each request is bounded by Request.Timeout, or DefaultTimeout when unset.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{client: NewClient(0)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewClient returns an http.Client tuned for many short concurrent probes.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

// Execute performs exactly one request. Failures are returned as *Error.
func (h *HTTP) Execute(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent := ctx

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var span trace.Span
	if h.tracer != nil {
		reqCtx, span = tracing.StartRequestSpan(reqCtx, h.tracer, method, req.URL)
	}

	resp, err := h.do(parent, reqCtx, method, req)
	if span != nil {
		var attrs []attribute.KeyValue
		if resp != nil {
			attrs = append(attrs, attribute.Int("http.response.status_code", resp.Status))
		}
		tracing.EndSpan(span, err, attrs...)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) do(parent, ctx context.Context, method string, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	for key, value := range req.Headers {
		if strings.ContainsAny(key, "\r\n") || strings.ContainsAny(value, "\r\n") {
			return nil, &Error{Kind: KindOther, Message: fmt.Sprintf("invalid header %q", key)}
		}
		httpReq.Header.Set(key, value)
	}
	if h.propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, Classify(parent, err)
	}
	defer httpResp.Body.Close()

	// One byte past the cap tells a truncated body from one that fits exactly.
	// The rest of an oversized body is not read; closing drops the connection.
	data, readErr := io.ReadAll(io.LimitReader(httpResp.Body, MaxBodySize+1))
	elapsed := time.Since(start)
	if readErr != nil {
		return nil, Classify(parent, readErr)
	}
	truncated := len(data) > MaxBodySize
	if truncated {
		data = data[:MaxBodySize]
	}

	headers := make(map[string]string, len(httpResp.Header))
	for key, values := range httpResp.Header {
		headers[key] = strings.Join(values, ", ")
	}
	resp := NewResponse(httpResp.StatusCode, headers, data, elapsed)
	resp.Truncated = truncated
	return resp, nil
}
