// Package assertion evaluates structural and status contracts against live
// responses.
package assertion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind names an assertion variant. The values double as catalog keys.
type Kind string

const (
	KindStatusIn          Kind = "status_in"
	KindHeaderPresent     Kind = "header_present"
	KindHeaderEquals      Kind = "header_equals"
	KindBodyHasKeys       Kind = "body_has_keys"
	KindBodyKeyEquals     Kind = "body_key_equals"
	KindResponseTimeUnder Kind = "response_time_under"
	KindBodyContains      Kind = "body_contains"
	KindBodyMatchesSchema Kind = "body_matches_schema"
)

// Assertion is a single predicate over a response. Build one with the
// constructors below; the zero value is not usable.
type Assertion struct {
	kind     Kind
	statuses []int
	name     string
	value    string
	keys     []string
	expected any
	limit    time.Duration
	schema   *jsonschema.Schema
}

// StatusIn passes when the status is one of statuses.
func StatusIn(statuses ...int) Assertion {
	s := slices.Clone(statuses)
	slices.Sort(s)
	return Assertion{kind: KindStatusIn, statuses: slices.Compact(s)}
}

// HeaderPresent passes when the named header exists. Names are case-insensitive.
func HeaderPresent(name string) Assertion {
	return Assertion{kind: KindHeaderPresent, name: strings.ToLower(name)}
}

// HeaderEquals passes when the named header has exactly value.
func HeaderEquals(name, value string) Assertion {
	return Assertion{kind: KindHeaderEquals, name: strings.ToLower(name), value: value}
}

// BodyHasKeys passes when every JSON path in keys exists in the body.
func BodyHasKeys(keys ...string) Assertion {
	return Assertion{kind: KindBodyHasKeys, keys: slices.Clone(keys)}
}

// BodyKeyEquals passes when the value at key equals value once both are
// compared as decoded JSON.
func BodyKeyEquals(key string, value any) Assertion {
	return Assertion{kind: KindBodyKeyEquals, name: key, expected: normalizeJSON(value)}
}

// ResponseTimeUnder passes when the attempt took strictly less than limit.
func ResponseTimeUnder(limit time.Duration) Assertion {
	return Assertion{kind: KindResponseTimeUnder, limit: limit}
}

// BodyContains passes when the raw body contains text.
func BodyContains(text string) Assertion {
	return Assertion{kind: KindBodyContains, value: text}
}

// BodyMatchesSchema compiles a JSON Schema (draft 2020-12) and passes when
// the body validates against it.
func BodyMatchesSchema(schema []byte) (Assertion, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return Assertion{}, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return Assertion{}, fmt.Errorf("compile schema: %w", err)
	}
	return Assertion{kind: KindBodyMatchesSchema, schema: compiled, value: compactJSON(schema)}, nil
}

// Kind returns the assertion variant.
func (a Assertion) Kind() Kind {
	return a.kind
}

// Statuses returns the accepted statuses of a StatusIn assertion.
func (a Assertion) Statuses() []int {
	return slices.Clone(a.statuses)
}

// String renders the assertion for reports, e.g. `status_in [200 201]`.
func (a Assertion) String() string {
	switch a.kind {
	case KindStatusIn:
		return fmt.Sprintf("%s %v", a.kind, a.statuses)
	case KindHeaderPresent:
		return fmt.Sprintf("%s %s", a.kind, a.name)
	case KindHeaderEquals:
		return fmt.Sprintf("%s %s=%q", a.kind, a.name, a.value)
	case KindBodyHasKeys:
		return fmt.Sprintf("%s %v", a.kind, a.keys)
	case KindBodyKeyEquals:
		return fmt.Sprintf("%s %s=%s", a.kind, a.name, encodeJSON(a.expected))
	case KindResponseTimeUnder:
		return fmt.Sprintf("%s %s", a.kind, a.limit)
	case KindBodyContains:
		return fmt.Sprintf("%s %q", a.kind, a.value)
	case KindBodyMatchesSchema:
		return fmt.Sprintf("%s %s", a.kind, a.value)
	default:
		return "invalid assertion"
	}
}

// MarshalJSON encodes the assertion as its report string.
func (a Assertion) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
