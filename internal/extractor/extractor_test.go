package extractor

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/torosent/probefire/internal/transport"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func response(body string, headers map[string]string) *transport.Response {
	return transport.NewResponse(200, headers, []byte(body), 0)
}

func TestExtract_JSONPath(t *testing.T) {
	resp := response(`{"id": 123, "user": {"name": "John"}, "items": [{"id": 1}, {"id": 2}]}`, nil)
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "simple", path: "id", want: "123"},
		{name: "nested", path: "user.name", want: "John"},
		{name: "array index", path: "items.1.id", want: "2"},
		{name: "dollar prefix", path: "$.user.name", want: "John"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(resp, []Rule{{Var: "v", JSONPath: tt.path}}, nil)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got["v"] != tt.want {
				t.Errorf("got %q, want %q", got["v"], tt.want)
			}
		})
	}
}

func TestExtract_JSONPath_BareDollar(t *testing.T) {
	body := `{"id": 123, "name": "test"}`
	got, err := Extract(response(body, nil), []Rule{{Var: "entire_json", JSONPath: "$"}}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got["entire_json"] != body {
		t.Errorf("expected %q, got %q", body, got["entire_json"])
	}
}

func TestExtract_Regex(t *testing.T) {
	resp := response(`Order #12345 confirmed, User ID: 111`, nil)
	got, err := Extract(resp, []Rule{
		{Var: "order", Regex: `#(\d+)`},
		{Var: "code", Regex: `\d+`},
	}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got["order"] != "12345" {
		t.Errorf("capture group: got %q", got["order"])
	}
	if got["code"] != "12345" {
		t.Errorf("full match: got %q", got["code"])
	}
}

func TestExtract_Header(t *testing.T) {
	resp := response(`{}`, map[string]string{"Location": "/bookings/9"})
	got, err := Extract(resp, []Rule{{Var: "loc", Header: "location"}}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got["loc"] != "/bookings/9" {
		t.Errorf("got %q", got["loc"])
	}
}

func TestExtract_MissingRequiredReturnsErrNotFound(t *testing.T) {
	logger, buf := bufferLogger()
	resp := response(`{"id": 123}`, nil)
	got, err := Extract(resp, []Rule{
		{Var: "id", JSONPath: "id"},
		{Var: "missing", JSONPath: "missing_field"},
	}, logger)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the variable: %v", err)
	}
	if got["id"] != "123" {
		t.Errorf("found values should still be returned, got %v", got)
	}
	if !strings.Contains(buf.String(), "json path not found") {
		t.Errorf("expected warning, log = %q", buf.String())
	}
}

func TestExtract_OptionalMissingIsSkipped(t *testing.T) {
	got, err := Extract(response(`no numbers here`, nil), []Rule{{Var: "n", Regex: `\d+`, Optional: true}}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := got["n"]; ok {
		t.Error("optional miss should not set a value")
	}
}

func TestExtract_InvalidRegexLogsWarning(t *testing.T) {
	logger, buf := bufferLogger()
	_, err := Extract(response(`some text`, nil), []Rule{{Var: "bad", Regex: `[invalid(regex`}}, logger)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(buf.String(), "invalid regex pattern") {
		t.Errorf("expected warning, log = %q", buf.String())
	}
}

func TestExtract_EmptyInputs(t *testing.T) {
	got, err := Extract(response(`{"id": 123}`, nil), nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("nil rules: got %v, %v", got, err)
	}
	if _, err := Extract(nil, []Rule{{Var: "id", JSONPath: "id"}}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil response: error = %v", err)
	}
	if _, err := Extract(response(``, nil), []Rule{{Var: "id", JSONPath: "id"}}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty body: error = %v", err)
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "json path", rule: Rule{Var: "a", JSONPath: "id"}},
		{name: "header", rule: Rule{Var: "a", Header: "location"}},
		{name: "missing var", rule: Rule{JSONPath: "id"}, wantErr: true},
		{name: "no source", rule: Rule{Var: "a"}, wantErr: true},
		{name: "two sources", rule: Rule{Var: "a", JSONPath: "id", Regex: "x"}, wantErr: true},
		{name: "bad regex", rule: Rule{Var: "a", Regex: "("}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	for in, want := range map[string]string{
		"$":       "@this",
		"$.data":  "data",
		"data.0":  "data.0",
		"":        "",
		"$.a.b.c": "a.b.c",
	} {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
