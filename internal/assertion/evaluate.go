package assertion

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/torosent/probefire/internal/extractor"
	"github.com/torosent/probefire/internal/transport"
)

// Failure records a violated assertion and what was observed instead.
type Failure struct {
	Assertion Assertion `json:"assertion"`
	Actual    string    `json:"actual"`
	Message   string    `json:"message"`
}

// Result is the outcome of evaluating a list of assertions.
type Result struct {
	Passed bool      `json:"passed"`
	Failed []Failure `json:"failed,omitempty"`
}

// Evaluate checks every assertion against resp. It never short-circuits, so
// Failed lists all violations in assertion order.
func Evaluate(resp *transport.Response, assertions []Assertion) Result {
	var failed []Failure
	for _, a := range assertions {
		if f, ok := a.Check(resp); !ok {
			failed = append(failed, f)
		}
	}
	return Result{Passed: len(failed) == 0, Failed: failed}
}

// Check evaluates a single assertion. The Failure is only meaningful when ok is false.
func (a Assertion) Check(resp *transport.Response) (Failure, bool) {
	if resp == nil {
		return a.fail("no response", "no response to evaluate")
	}

	switch a.kind {
	case KindStatusIn:
		if slices.Contains(a.statuses, resp.Status) {
			return Failure{}, true
		}
		return a.fail(fmt.Sprint(resp.Status), fmt.Sprintf("status %d not in %v", resp.Status, a.statuses))

	case KindHeaderPresent:
		if _, ok := resp.Header(a.name); ok {
			return Failure{}, true
		}
		return a.fail("absent", fmt.Sprintf("header %q missing", a.name))

	case KindHeaderEquals:
		got, ok := resp.Header(a.name)
		if !ok {
			return a.fail("absent", fmt.Sprintf("header %q missing", a.name))
		}
		if got != a.value {
			return a.fail(got, fmt.Sprintf("header %q is %q, want %q", a.name, got, a.value))
		}
		return Failure{}, true

	case KindBodyHasKeys:
		if !resp.IsJSON() {
			return a.fail(bodySnippet(resp), notJSON(resp))
		}
		var missing []string
		for _, key := range a.keys {
			if !extractor.LookupJSON(resp.Body, key).Exists() {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return a.fail("missing "+strings.Join(missing, ", "), fmt.Sprintf("body lacks keys %v", missing))
		}
		return Failure{}, true

	case KindBodyKeyEquals:
		if !resp.IsJSON() {
			return a.fail(bodySnippet(resp), notJSON(resp))
		}
		got := extractor.LookupJSON(resp.Body, a.name)
		if !got.Exists() {
			return a.fail("absent", fmt.Sprintf("body key %q missing", a.name))
		}
		actual := got.Value()
		if !reflect.DeepEqual(actual, a.expected) {
			return a.fail(got.Raw, fmt.Sprintf("body key %q is %s, want %s", a.name, got.Raw, encodeJSON(a.expected)))
		}
		return Failure{}, true

	case KindResponseTimeUnder:
		if resp.Elapsed < a.limit {
			return Failure{}, true
		}
		return a.fail(resp.Elapsed.String(), fmt.Sprintf("response took %s, limit %s", resp.Elapsed, a.limit))

	case KindBodyContains:
		if strings.Contains(string(resp.Body), a.value) {
			return Failure{}, true
		}
		msg := fmt.Sprintf("body does not contain %q", a.value)
		if resp.Truncated {
			msg += fmt.Sprintf(" (body truncated at %d MiB)", transport.MaxBodySize>>20)
		}
		return a.fail(bodySnippet(resp), msg)

	case KindBodyMatchesSchema:
		if !resp.IsJSON() {
			return a.fail(bodySnippet(resp), notJSON(resp))
		}
		if err := a.schema.Validate(resp.JSON()); err != nil {
			return a.fail(bodySnippet(resp), schemaMessage(err))
		}
		return Failure{}, true

	default:
		return a.fail("", fmt.Sprintf("unknown assertion kind %q", a.kind))
	}
}

func (a Assertion) fail(actual, message string) (Failure, bool) {
	return Failure{Assertion: a, Actual: actual, Message: message}, false
}

// notJSON explains why a body could not be decoded.
func notJSON(resp *transport.Response) string {
	if resp.Truncated {
		return fmt.Sprintf("body truncated at %d MiB", transport.MaxBodySize>>20)
	}
	return "body is not JSON"
}

const maxSnippet = 120

func bodySnippet(resp *transport.Response) string {
	if len(resp.Body) == 0 {
		return "empty body"
	}
	s := strings.TrimSpace(string(resp.Body))
	if len(s) > maxSnippet {
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

// schemaMessage flattens nested validation causes into one line.
func schemaMessage(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return "schema violation: " + strings.Join(parts, "; ")
}
