package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/config"
	"github.com/torosent/probefire/internal/extractor"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/transport"
)

const catalogYAML = `
concurrency: 4
log_level: debug
thresholds:
  - "probe_duration:p95 < 2000"
tracing:
  endpoint: localhost:4317
  protocol: grpc
  sample_rate: 0.5
defaults:
  headers:
    Authorization: "Token abc"
  timeout: 10s
  retry:
    trigger_statuses: [420, 429]
    max_attempts: 2
    backoff: 5s
probes:
  - id: users-page-2
    method: GET
    url: "{{base}}/users"
    params: {base: "https://reqres.in/api"}
    query: {page: "2"}
    expected_statuses: [200]
    assertions:
      - body_has_keys: [page, data]
      - body_key_equals: {key: page, value: 2}
      - header_present: content-type
      - response_time_under: 2s
  - id: search
    method: POST
    url: "https://api.test/search"
    body: {originCode: DAC, adults: 1}
    expected_statuses: [200, 201]
  - id: check-price
    url: "https://api.test/price/{{search_id}}"
    expected_statuses: [200]
batches:
  - name: offers-load
    probes: [users-page-2]
    repeat: 100
    concurrency: 10
    budget: 5s
    rate: 50
flows:
  - name: book
    stages:
      - probe: search
        extract: [{var: search_id, json_path: "data.search_id"}]
      - probe: check-price
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadCatalogYAML(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)

	cfg, err := config.NewLoader().Load([]string{"--catalog", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.Defaults.Headers["Authorization"] != "Token abc" {
		t.Errorf("Defaults.Headers = %v", cfg.Defaults.Headers)
	}
	if cfg.Defaults.Timeout != 10*time.Second {
		t.Errorf("Defaults.Timeout = %v, want 10s", cfg.Defaults.Timeout)
	}
	if len(cfg.Probes) != 3 || len(cfg.Batches) != 1 || len(cfg.Flows) != 1 {
		t.Fatalf("probes/batches/flows = %d/%d/%d, want 3/1/1", len(cfg.Probes), len(cfg.Batches), len(cfg.Flows))
	}
	if cfg.Batches[0].Budget != 5*time.Second || cfg.Batches[0].Repeat != 100 {
		t.Errorf("batch = %+v", cfg.Batches[0])
	}

	plan, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	spec, ok := plan.Spec("users-page-2")
	if !ok {
		t.Fatal("users-page-2 missing from plan")
	}
	req, err := spec.Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.URL != "https://reqres.in/api/users?page=2" {
		t.Errorf("URL = %q", req.URL)
	}
	if req.Headers["Authorization"] != "Token abc" {
		t.Errorf("default header not merged: %v", req.Headers)
	}
	if req.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", req.Timeout)
	}
	if retry := spec.Retry(); retry.MaxAttempts != 2 || !retry.ShouldRetryStatus(429) || retry.Delay(1) != 5*time.Second {
		t.Errorf("retry = %+v", retry)
	}
	if got := len(spec.Checks()); got != 5 {
		t.Errorf("checks = %d, want 5", got)
	}

	search, _ := plan.Spec("search")
	req, err = search.Request()
	if err != nil {
		t.Fatalf("search Request() error = %v", err)
	}
	if string(req.Body) != `{"adults":1,"originCode":"DAC"}` {
		t.Errorf("Body = %s", req.Body)
	}

	if len(plan.Batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(plan.Batches))
	}
	b := plan.Batches[0]
	if b.Name != "offers-load" || len(b.Specs) != 100 {
		t.Errorf("batch %s has %d specs, want offers-load/100", b.Name, len(b.Specs))
	}
	if b.Options.Concurrency != 10 || b.Options.RatePerSecond != 50 || b.Options.Budget != 5*time.Second {
		t.Errorf("batch options = %+v", b.Options)
	}

	if len(plan.Flows) != 1 || len(plan.Flows[0].Stages) != 2 {
		t.Fatalf("flows = %+v", plan.Flows)
	}
	if plan.Flows[0].Stages[0].Extract[0].Var != "search_id" {
		t.Errorf("extract rule = %+v", plan.Flows[0].Stages[0].Extract[0])
	}
	if len(plan.Thresholds) != 1 {
		t.Errorf("thresholds = %d, want 1", len(plan.Thresholds))
	}
}

func TestLoadCatalogJSON(t *testing.T) {
	path := writeFile(t, "catalog.json", `{
	"rate": 25,
	"json": true,
	"probes": [
		{
			"id": "user-1",
			"url": "https://reqres.in/api/users/1",
			"expected_statuses": [200],
			"assertions": [
				{"body_key_equals": {"key": "data.id", "value": 1}},
				{"header_equals": {"name": "X-Frame-Options", "value": "DENY"}}
			]
		}
	]
}`)

	cfg, err := config.NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Rate != 25 || !cfg.JSONOutput {
		t.Errorf("Rate = %d JSONOutput = %v", cfg.Rate, cfg.JSONOutput)
	}

	plan, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.Batches) != 1 || plan.Batches[0].Name != config.DefaultBatchName {
		t.Fatalf("batches = %+v, want one default batch", plan.Batches)
	}
	if plan.Batches[0].Options.RatePerSecond != 25 {
		t.Errorf("default batch rate = %d, want 25", plan.Batches[0].Options.RatePerSecond)
	}
	asserts := plan.Specs[0].Assertions()
	if len(asserts) != 2 || asserts[1].Kind() != assertion.KindHeaderEquals {
		t.Errorf("assertions = %v", asserts)
	}
}

func TestProbeTimeoutFallsBackToDefault(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
probes:
  - id: slow
    url: "http://api.test/slow"
    expected_statuses: [200]
  - id: tight
    url: "http://api.test/tight"
    timeout: 2s
    expected_statuses: [200]
`)
	tests := []struct {
		name  string
		args  []string
		slow  time.Duration
		tight time.Duration
	}{
		{name: "no timeout anywhere", args: nil, slow: transport.DefaultTimeout, tight: 2 * time.Second},
		{name: "timeout flag", args: []string{"--timeout", "5s"}, slow: 5 * time.Second, tight: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.NewLoader().Load(append([]string{"--catalog", path}, tt.args...))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			plan, err := cfg.Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			slow, _ := plan.Spec("slow")
			tight, _ := plan.Spec("tight")
			if slow.Timeout() != tt.slow {
				t.Errorf("slow timeout = %v, want %v", slow.Timeout(), tt.slow)
			}
			if tight.Timeout() != tt.tight {
				t.Errorf("tight timeout = %v, want %v", tight.Timeout(), tt.tight)
			}
			req, err := slow.Request()
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if req.Timeout != tt.slow {
				t.Errorf("request timeout = %v, want %v", req.Timeout, tt.slow)
			}
		})
	}
}

func TestFlagsOverrideCatalog(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)

	cfg, err := config.NewLoader().Load([]string{
		"--catalog", path,
		"--concurrency", "3",
		"--log-level", "warn",
		"--json",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Concurrency != 3 || cfg.Batches[0].Concurrency != 3 {
		t.Errorf("Concurrency = %d / batch %d, want 3", cfg.Concurrency, cfg.Batches[0].Concurrency)
	}
	if cfg.LogLevel != "warn" || !cfg.JSONOutput {
		t.Errorf("LogLevel = %q JSONOutput = %v", cfg.LogLevel, cfg.JSONOutput)
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load(nil)
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(nil) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadMissingCatalog(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--catalog", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

func TestSchemaFileResolvedFromCatalogDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "user.json"), []byte(`{"type":"object","required":["id"]}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg := config.Config{
		CatalogFile: filepath.Join(dir, "catalog.yaml"),
		Probes: []config.EndpointEntry{{
			ID:               "user",
			URL:              "https://reqres.in/api/users/1",
			ExpectedStatuses: []int{200},
			Assertions: []config.AssertionEntry{
				{Kind: "body_matches_schema", Value: map[string]interface{}{"file": "user.json"}},
				{Kind: "body_matches_schema", Value: map[string]interface{}{"type": "object"}},
			},
		}},
	}

	plan, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := len(plan.Specs[0].Assertions()); got != 2 {
		t.Errorf("assertions = %d, want 2", got)
	}
}

func TestValidateCollectsIssues(t *testing.T) {
	cases := []struct {
		name string
		have config.Config
		want []string
	}{
		{
			name: "empty catalog",
			have: config.Config{},
			want: []string{"at least one probe"},
		},
		{
			name: "negative run settings",
			have: config.Config{
				Concurrency: -1,
				BudgetMs:    -5,
				Rate:        -10,
				Arrival:     "bursty",
				LogLevel:    "loud",
				Probes:      []config.EndpointEntry{{ID: "a", URL: "http://x", ExpectedStatuses: []int{200}}},
			},
			want: []string{"concurrency", "budget-ms", "rate", "arrival_model", "log level"},
		},
		{
			name: "probe problems",
			have: config.Config{
				Probes: []config.EndpointEntry{
					{ID: "a", URL: "http://x"},
					{ID: "a", URL: "http://y", ExpectedStatuses: []int{200}},
					{ID: "b", URL: "http://x/{{missing}}", ExpectedStatuses: []int{200}},
					{ID: "c", URL: "http://x", ExpectedStatuses: []int{200}, Assertions: []config.AssertionEntry{{Kind: "body_is_pretty", Value: true}}},
					{ID: "d", URL: "http://x", ExpectedStatuses: []int{700}},
				},
			},
			want: []string{
				"probe a: expected statuses",
				"probe a: duplicate id",
				"probe b: unresolved placeholders missing",
				`unknown assertion "body_is_pretty"`,
				"expected status 700 out of range",
			},
		},
		{
			name: "retry problems",
			have: config.Config{
				Defaults: config.Defaults{Retry: &config.RetryEntry{MaxAttempts: -1, Strategy: "fibonacci", RetryErrors: []string{"gremlins"}}},
				Probes:   []config.EndpointEntry{{ID: "a", URL: "http://x", ExpectedStatuses: []int{200}}},
			},
			want: []string{"max_attempts", "strategy", "gremlins"},
		},
		{
			name: "batch and flow problems",
			have: config.Config{
				Probes: []config.EndpointEntry{
					{ID: "a", URL: "http://x", ExpectedStatuses: []int{200}},
					{ID: "b", URL: "http://x/{{token}}", ExpectedStatuses: []int{200}},
				},
				Batches: []config.BatchEntry{
					{Name: "load", Probes: []string{"nope"}, Repeat: -1},
					{Name: "needs-flow", Probes: []string{"b"}},
				},
				Flows: []config.FlowEntry{
					{Name: "f", Stages: []config.StageEntry{{Probe: "a"}, {Probe: "b"}}},
					{Name: "g"},
				},
				Thresholds: []string{"latency < 5"},
			},
			want: []string{
				`batch load: unknown probe "nope"`,
				"batch load: repeat",
				"batch needs-flow: probe b needs values extracted by a flow",
				"flow f stage 1 (b): unresolved placeholders token",
				"flow g: at least one stage",
				"threshold",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.have.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			var ve config.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error %T, want ValidationError", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestFlowOnlyProbesStayOutOfDefaultBatch(t *testing.T) {
	cfg := config.Config{
		Probes: []config.EndpointEntry{
			{ID: "search", URL: "http://api.test/search", ExpectedStatuses: []int{200}},
			{ID: "price", URL: "http://api.test/price/{{search_id}}", ExpectedStatuses: []int{200}},
		},
		Flows: []config.FlowEntry{{
			Name: "book",
			Stages: []config.StageEntry{
				{Probe: "search", Extract: extractSearchID()},
				{Probe: "price"},
			},
		}},
	}

	plan, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.Batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(plan.Batches))
	}
	specs := plan.Batches[0].Specs
	if len(specs) != 1 || specs[0].ID() != "search" {
		t.Errorf("default batch = %v, want only search", specs)
	}
	if plan.Batches[0].Options.Concurrency != 0 {
		t.Errorf("Concurrency = %d, want 0 (scheduler default)", plan.Batches[0].Options.Concurrency)
	}
	if plan.Batches[0].Options.ArrivalModel != "" && plan.Batches[0].Options.ArrivalModel != runner.ArrivalModelUniform {
		t.Errorf("ArrivalModel = %q", plan.Batches[0].Options.ArrivalModel)
	}
}

func extractSearchID() []extractor.Rule {
	return []extractor.Rule{{Var: "search_id", JSONPath: "data.search_id"}}
}

func TestBatchFeedBindsProbes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "users.csv"), []byte("user_id,tier\n1,gold\n2,silver\n3,gold\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	catalog := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catalog, []byte(`
probes:
  - id: user
    url: "http://api.test/users/{{user_id}}"
    query: {tier: "{{tier}}"}
    expected_statuses: [200]
  - id: health
    url: "http://api.test/health"
    expected_statuses: [200]
batches:
  - name: per-user
    probes: [user, health]
    repeat: 2
    feed: users.csv
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().LoadFile(catalog)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	plan, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	specs := plan.Batches[0].Specs
	if len(specs) != 12 {
		t.Fatalf("specs = %d, want 12 (2 probes x 3 rows x 2 repeats)", len(specs))
	}
	req, err := specs[0].Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.URL != "http://api.test/users/1?tier=gold" {
		t.Errorf("first URL = %s", req.URL)
	}
	req, err = specs[5].Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.URL != "http://api.test/users/3?tier=gold" {
		t.Errorf("sixth URL = %s", req.URL)
	}
}

func TestBatchFeedMustBindEveryPlaceholder(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(`[{"user_id": 1}]`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg := config.Config{
		CatalogFile: filepath.Join(dir, "catalog.yaml"),
		Probes: []config.EndpointEntry{
			{ID: "user", URL: "http://api.test/users/{{user_id}}/{{org}}", ExpectedStatuses: []int{200}},
		},
		Batches: []config.BatchEntry{
			{Name: "fed", Probes: []string{"user"}, Feed: "users.json"},
			{Name: "missing", Probes: []string{"user"}, Feed: "nope.csv"},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	for _, want := range []string{"batch fed: probe user: feed does not bind org", "batch missing: feed:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err.Error(), want)
		}
	}
}
