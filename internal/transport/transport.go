package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Request describes a single HTTP call. Headers are sent as given.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response is produced once per Execute call and never mutated afterwards.
type Response struct {
	Status  int
	Headers map[string]string // keys are lower-cased
	Body    []byte
	Elapsed time.Duration
	// Truncated is set when the body was cut at MaxBodySize.
	Truncated bool

	decoded any
	isJSON  bool
}

// NewResponse builds a Response, lower-casing header keys and decoding the body
// when it holds valid JSON.
func NewResponse(status int, headers map[string]string, body []byte, elapsed time.Duration) *Response {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	resp := &Response{
		Status:  status,
		Headers: lowered,
		Body:    body,
		Elapsed: elapsed,
	}
	if len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			resp.decoded = v
			resp.isJSON = true
		}
	}
	return resp
}

// Header returns the value of a header using a case-insensitive name.
func (r *Response) Header(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// IsJSON reports whether the body parsed as JSON.
func (r *Response) IsJSON() bool {
	return r != nil && r.isJSON
}

// JSON returns the decoded body, or nil when the body is not JSON.
func (r *Response) JSON() any {
	if r == nil {
		return nil
	}
	return r.decoded
}

// ElapsedMs returns the elapsed time in whole milliseconds.
func (r *Response) ElapsedMs() int64 {
	if r == nil {
		return 0
	}
	return r.Elapsed.Milliseconds()
}

// Transport executes a single request. Implementations must honor
// Request.Timeout and must not retry.
type Transport interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindDNSFailure        ErrorKind = "dns_failure"
	KindCanceled          ErrorKind = "canceled"
	KindOther             ErrorKind = "other"
)

// ParseErrorKind maps a configuration label to an ErrorKind.
func ParseErrorKind(s string) (ErrorKind, error) {
	switch ErrorKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTimeout:
		return KindTimeout, nil
	case KindConnectionRefused, "connection-refused", "refused":
		return KindConnectionRefused, nil
	case KindDNSFailure, "dns":
		return KindDNSFailure, nil
	case KindCanceled, "cancelled":
		return KindCanceled, nil
	case KindOther:
		return KindOther, nil
	default:
		return "", fmt.Errorf("unknown transport error kind %q", s)
	}
}

// Error is the failure type returned by transports.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON encodes the kind and message only.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message,omitempty"`
	}{e.Kind, e.Message})
}

// Classify converts an arbitrary error into a *Error. The parent context is
// consulted to tell an expired per-request timeout apart from cancellation.
func Classify(parent context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	kind := KindOther
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case parent != nil && errors.Is(parent.Err(), context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			kind = KindTimeout
		} else {
			kind = KindDNSFailure
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}
