// Package endpoint defines the immutable description of a single probe.
package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/transport"
)

// Options is the mutable input to New.
type Options struct {
	ID               string
	Method           string
	URL              string            // may contain {{name}} placeholders
	Params           map[string]string // placeholder values
	Query            map[string]string
	Headers          map[string]string
	Body             any    // JSON-encoded when set
	RawBody          string // sent as-is; mutually exclusive with Body
	ExpectedStatuses []int
	Assertions       []assertion.Assertion
	Retry            RetryPolicy
	Timeout          time.Duration
}

// Spec describes one probe. It is immutable once built; accessors return copies.
type Spec struct {
	id               string
	method           string
	url              string
	params           map[string]string
	vars             map[string]string
	query            map[string]string
	headers          map[string]string
	body             any
	hasBody          bool
	rawBody          string
	expectedStatuses []int
	assertions       []assertion.Assertion
	retry            RetryPolicy
	timeout          time.Duration
}

// New validates opts and builds a Spec.
func New(opts Options) (*Spec, error) {
	var issues []string

	id := strings.TrimSpace(opts.ID)
	if id == "" {
		issues = append(issues, "id is required")
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}

	if strings.TrimSpace(opts.URL) == "" {
		issues = append(issues, "url is required")
	}

	hasStatusAssertion := slices.ContainsFunc(opts.Assertions, func(a assertion.Assertion) bool {
		return a.Kind() == assertion.KindStatusIn
	})
	if len(opts.ExpectedStatuses) == 0 && !hasStatusAssertion {
		issues = append(issues, "expected statuses must not be empty without a status_in assertion")
	}
	for _, status := range opts.ExpectedStatuses {
		if status < 100 || status > 599 {
			issues = append(issues, fmt.Sprintf("expected status %d out of range", status))
		}
	}

	retry := opts.Retry.clone()
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 1
	}
	if retry.MaxAttempts < 1 {
		issues = append(issues, "retry max attempts must be >= 1")
	}

	if opts.Timeout < 0 {
		issues = append(issues, "timeout must be non-negative")
	}

	for key, value := range opts.Headers {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header key %q", key))
		}
		if strings.ContainsAny(value, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header value for %s", key))
		}
	}

	if opts.Body != nil && opts.RawBody != "" {
		issues = append(issues, "body and raw body cannot both be provided")
	}
	var body any
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			issues = append(issues, fmt.Sprintf("body is not JSON-encodable: %v", err))
		} else if err := json.Unmarshal(data, &body); err != nil {
			issues = append(issues, fmt.Sprintf("body is not JSON-encodable: %v", err))
		}
	}

	if len(issues) > 0 {
		sort.Strings(issues)
		if id == "" {
			return nil, errors.New(strings.Join(issues, "; "))
		}
		return nil, fmt.Errorf("endpoint %s: %s", id, strings.Join(issues, "; "))
	}

	statuses := slices.Clone(opts.ExpectedStatuses)
	slices.Sort(statuses)

	return &Spec{
		id:               id,
		method:           method,
		url:              strings.TrimSpace(opts.URL),
		params:           maps.Clone(opts.Params),
		query:            maps.Clone(opts.Query),
		headers:          maps.Clone(opts.Headers),
		body:             body,
		hasBody:          opts.Body != nil,
		rawBody:          opts.RawBody,
		expectedStatuses: slices.Compact(statuses),
		assertions:       slices.Clone(opts.Assertions),
		retry:            retry,
		timeout:          opts.Timeout,
	}, nil
}

func (s *Spec) ID() string                        { return s.id }
func (s *Spec) Method() string                    { return s.method }
func (s *Spec) URLTemplate() string               { return s.url }
func (s *Spec) Timeout() time.Duration            { return s.timeout }
func (s *Spec) Retry() RetryPolicy                { return s.retry.clone() }
func (s *Spec) ExpectedStatuses() []int           { return slices.Clone(s.expectedStatuses) }
func (s *Spec) Headers() map[string]string        { return maps.Clone(s.headers) }
func (s *Spec) Query() map[string]string          { return maps.Clone(s.query) }
func (s *Spec) Params() map[string]string         { return maps.Clone(s.params) }
func (s *Spec) Vars() map[string]string           { return maps.Clone(s.vars) }
func (s *Spec) Assertions() []assertion.Assertion { return slices.Clone(s.assertions) }

// Checks returns the assertions the probe is scored on: the expected-status
// set as a leading StatusIn, followed by the explicit assertions.
func (s *Spec) Checks() []assertion.Assertion {
	checks := make([]assertion.Assertion, 0, len(s.assertions)+1)
	if len(s.expectedStatuses) > 0 {
		checks = append(checks, assertion.StatusIn(s.expectedStatuses...))
	}
	return append(checks, s.assertions...)
}

// Bind returns a copy of the spec whose placeholders also resolve from vars.
// Bound variables take precedence over params. The receiver is unchanged.
func (s *Spec) Bind(vars map[string]string) *Spec {
	bound := *s
	merged := maps.Clone(s.vars)
	if merged == nil {
		merged = make(map[string]string, len(vars))
	}
	maps.Copy(merged, vars)
	bound.vars = merged
	return &bound
}

// Unresolved lists placeholder names that have neither a value nor a default.
func (s *Spec) Unresolved() []string {
	_, err := s.Request()
	var ue *UnresolvedError
	if errors.As(err, &ue) {
		return ue.Names
	}
	return nil
}

// Request renders the transport request: placeholders resolved in the URL,
// query values, header values and body, query appended in sorted key order.
func (s *Spec) Request() (transport.Request, error) {
	missing := map[string]struct{}{}
	lookups := []map[string]string{s.vars, s.params}

	target := render(s.url, missing, lookups...)

	headers := make(map[string]string, len(s.headers)+1)
	for k, v := range s.headers {
		headers[k] = render(v, missing, lookups...)
	}

	var query url.Values
	if len(s.query) > 0 {
		query = make(url.Values, len(s.query))
		for k, v := range s.query {
			query.Set(k, render(v, missing, lookups...))
		}
	}

	var body []byte
	switch {
	case s.hasBody:
		data, err := json.Marshal(renderJSON(s.body, missing, lookups...))
		if err != nil {
			return transport.Request{}, fmt.Errorf("encode body: %w", err)
		}
		body = data
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
	case s.rawBody != "":
		body = []byte(render(s.rawBody, missing, lookups...))
	}

	if len(missing) > 0 {
		return transport.Request{}, &UnresolvedError{Names: sortedKeys(missing)}
	}

	if query != nil {
		// url.Values.Encode sorts by key.
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	return transport.Request{
		Method:  s.method,
		URL:     target,
		Headers: headers,
		Body:    body,
		Timeout: s.timeout,
	}, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
