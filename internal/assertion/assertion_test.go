package assertion_test

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/transport"
)

const usersBody = `{"page": 2, "per_page": 6, "data": [{"id": 7, "email": "michael.lawson@reqres.in"}], "support": {"url": "https://reqres.in"}}`

func usersResponse() *transport.Response {
	return transport.NewResponse(200, map[string]string{
		"Content-Type":                "application/json; charset=utf-8",
		"Access-Control-Allow-Origin": "*",
	}, []byte(usersBody), 150*time.Millisecond)
}

func mustSchema(t *testing.T, schema string) assertion.Assertion {
	t.Helper()
	a, err := assertion.BodyMatchesSchema([]byte(schema))
	if err != nil {
		t.Fatalf("BodyMatchesSchema() error = %v", err)
	}
	return a
}

func TestCheck(t *testing.T) {
	resp := usersResponse()
	tests := []struct {
		name      string
		assertion assertion.Assertion
		want      bool
	}{
		{name: "status in set", assertion: assertion.StatusIn(200, 201), want: true},
		{name: "status not in set", assertion: assertion.StatusIn(404), want: false},
		{name: "header present any case", assertion: assertion.HeaderPresent("ACCESS-CONTROL-ALLOW-ORIGIN"), want: true},
		{name: "header absent", assertion: assertion.HeaderPresent("x-frame-options"), want: false},
		{name: "header equals", assertion: assertion.HeaderEquals("access-control-allow-origin", "*"), want: true},
		{name: "header differs", assertion: assertion.HeaderEquals("content-type", "text/html"), want: false},
		{name: "body has keys", assertion: assertion.BodyHasKeys("page", "data", "$.support.url"), want: true},
		{name: "body missing key", assertion: assertion.BodyHasKeys("page", "total"), want: false},
		{name: "nested array key", assertion: assertion.BodyHasKeys("data.0.email"), want: true},
		{name: "key equals int", assertion: assertion.BodyKeyEquals("page", 2), want: true},
		{name: "key equals string", assertion: assertion.BodyKeyEquals("data.0.email", "michael.lawson@reqres.in"), want: true},
		{name: "key equals object", assertion: assertion.BodyKeyEquals("support", map[string]any{"url": "https://reqres.in"}), want: true},
		{name: "key differs", assertion: assertion.BodyKeyEquals("page", "2"), want: false},
		{name: "key absent", assertion: assertion.BodyKeyEquals("total", 12), want: false},
		{name: "fast enough", assertion: assertion.ResponseTimeUnder(time.Second), want: true},
		{name: "boundary is not under", assertion: assertion.ResponseTimeUnder(150 * time.Millisecond), want: false},
		{name: "body contains", assertion: assertion.BodyContains("lawson"), want: true},
		{name: "body lacks text", assertion: assertion.BodyContains("<title>"), want: false},
		{name: "schema ok", assertion: mustSchema(t, `{"type":"object","required":["page","data"],"properties":{"page":{"type":"integer"}}}`), want: true},
		{name: "schema violated", assertion: mustSchema(t, `{"type":"object","properties":{"page":{"type":"string"}}}`), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := tt.assertion.Check(resp)
			if ok != tt.want {
				t.Fatalf("Check() = %v, want %v (failure: %+v)", ok, tt.want, f)
			}
			if !ok && f.Message == "" {
				t.Error("failure should carry a message")
			}
		})
	}
}

func TestBodyAssertionsOnNonJSON(t *testing.T) {
	resp := transport.NewResponse(200, nil, []byte("<html><title>Flights</title></html>"), 0)
	for _, a := range []assertion.Assertion{
		assertion.BodyHasKeys("data"),
		assertion.BodyKeyEquals("page", 1),
		mustSchema(t, `{"type":"object"}`),
	} {
		f, ok := a.Check(resp)
		if ok {
			t.Errorf("%s passed on HTML body", a)
		}
		if f.Message != "body is not JSON" {
			t.Errorf("%s message = %q", a, f.Message)
		}
	}
	if _, ok := assertion.BodyContains("<title>Flights").Check(resp); !ok {
		t.Error("body_contains should work on non-JSON bodies")
	}
}

func TestBodyAssertionsOnTruncatedBody(t *testing.T) {
	resp := transport.NewResponse(200, nil, []byte(`{"page":2,"pad":"aaaa`), 0)
	resp.Truncated = true
	for _, a := range []assertion.Assertion{
		assertion.BodyHasKeys("page"),
		assertion.BodyKeyEquals("page", 2),
		mustSchema(t, `{"type":"object"}`),
	} {
		f, ok := a.Check(resp)
		if ok {
			t.Errorf("%s passed on truncated body", a)
		}
		if f.Message != "body truncated at 1 MiB" {
			t.Errorf("%s message = %q", a, f.Message)
		}
	}
	f, _ := assertion.BodyContains("needle").Check(resp)
	if !strings.Contains(f.Message, "truncated at 1 MiB") {
		t.Errorf("body_contains message = %q", f.Message)
	}
}

func TestFailureSnippetKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", 119) + strings.Repeat("é", 20)
	f, ok := assertion.BodyContains("missing").Check(transport.NewResponse(200, nil, []byte(body), 0))
	if ok {
		t.Fatal("body_contains passed")
	}
	if !utf8.ValidString(f.Actual) {
		t.Errorf("Actual is not valid UTF-8: %q", f.Actual)
	}
	if f.Actual != strings.Repeat("a", 119)+"..." {
		t.Errorf("Actual = %q", f.Actual)
	}
}

func TestEmptyBodyNeverPanics(t *testing.T) {
	resp := transport.NewResponse(204, nil, nil, 0)
	res := assertion.Evaluate(resp, []assertion.Assertion{
		assertion.BodyHasKeys("a"),
		assertion.BodyKeyEquals("a", 1),
		assertion.BodyContains("x"),
	})
	if res.Passed || len(res.Failed) != 3 {
		t.Fatalf("Evaluate() = %+v, want three failures", res)
	}
}

func TestEvaluateReportsEveryFailureInOrder(t *testing.T) {
	resp := usersResponse()
	res := assertion.Evaluate(resp, []assertion.Assertion{
		assertion.StatusIn(201),
		assertion.BodyHasKeys("page"),
		assertion.HeaderPresent("x-content-type-options"),
		assertion.BodyContains("nope"),
	})
	if res.Passed {
		t.Fatal("expected failure")
	}
	var kinds []assertion.Kind
	for _, f := range res.Failed {
		kinds = append(kinds, f.Assertion.Kind())
	}
	want := []assertion.Kind{assertion.KindStatusIn, assertion.KindHeaderPresent, assertion.KindBodyContains}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("failed kinds = %v, want %v", kinds, want)
	}
	if res.Failed[0].Actual != "200" {
		t.Errorf("Actual = %q, want 200", res.Failed[0].Actual)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	resp := usersResponse()
	list := []assertion.Assertion{assertion.StatusIn(200), assertion.BodyKeyEquals("page", 3), assertion.BodyHasKeys("x")}
	first := assertion.Evaluate(resp, list)
	for i := 0; i < 10; i++ {
		if got := assertion.Evaluate(resp, list); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestEvaluateEmptyListPasses(t *testing.T) {
	if res := assertion.Evaluate(usersResponse(), nil); !res.Passed {
		t.Errorf("empty assertion list should pass, got %+v", res)
	}
}

func TestBodyMatchesSchemaRejectsInvalidSchema(t *testing.T) {
	if _, err := assertion.BodyMatchesSchema([]byte(`{"type": 12}`)); err == nil {
		t.Error("expected compile error")
	}
	if _, err := assertion.BodyMatchesSchema([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		a    assertion.Assertion
		want string
	}{
		{assertion.StatusIn(201, 200, 200), "status_in [200 201]"},
		{assertion.HeaderEquals("X-Frame-Options", "DENY"), `header_equals x-frame-options="DENY"`},
		{assertion.BodyKeyEquals("page", 2), "body_key_equals page=2"},
		{assertion.ResponseTimeUnder(2 * time.Second), "response_time_under 2s"},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if !strings.HasPrefix(mustSchema(t, `{"type": "object"}`).String(), "body_matches_schema ") {
		t.Error("schema assertion string should name its kind")
	}
}
