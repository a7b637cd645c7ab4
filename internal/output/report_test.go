package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/flow"
	"github.com/torosent/probefire/internal/metrics"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/threshold"
	"github.com/torosent/probefire/internal/transport"
)

func passOutcome(id string, status int, elapsed time.Duration) runner.ProbeOutcome {
	return runner.ProbeOutcome{
		SpecID:   id,
		Verdict:  runner.VerdictPass,
		Attempts: []runner.Attempt{{Number: 1, Response: transport.NewResponse(status, nil, nil, elapsed)}},
	}
}

func failOutcome(id string, status int) runner.ProbeOutcome {
	return runner.ProbeOutcome{
		SpecID:   id,
		Verdict:  runner.VerdictFail,
		Attempts: []runner.Attempt{{Number: 1, Response: transport.NewResponse(status, nil, nil, 40*time.Millisecond)}},
		FailedAssertions: []assertion.Failure{{
			Assertion: assertion.StatusIn(200),
			Actual:    fmt.Sprint(status),
			Message:   fmt.Sprintf("status %d not in [200]", status),
		}},
	}
}

func errorOutcome(id string) runner.ProbeOutcome {
	err := &transport.Error{Kind: transport.KindTimeout, Message: "deadline exceeded"}
	return runner.ProbeOutcome{
		SpecID:   id,
		Verdict:  runner.VerdictError,
		Attempts: []runner.Attempt{{Number: 1, Err: err}, {Number: 2, Err: err}},
		Err:      err,
	}
}

func sampleRun() metrics.RunResult {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return metrics.Fold(
		runner.BatchResult{
			Name: "smoke",
			Outcomes: []runner.ProbeOutcome{
				passOutcome("users", 200, 20*time.Millisecond),
				failOutcome("offers", 500),
				errorOutcome("search"),
			},
			StartedAt:      start,
			FinishedAt:     start.Add(1500 * time.Millisecond),
			Budget:         time.Second,
			BudgetExceeded: true,
			Concurrency:    4,
			MaxInFlight:    3,
		},
	)
}

func TestPrintReportBasic(t *testing.T) {
	run := sampleRun()
	summary := metrics.Summarize(run)

	var buf bytes.Buffer
	PrintReport(&buf, run, summary, nil, nil)

	output := buf.String()
	for _, want := range []string{
		"--- Probe Results ---",
		"Total Probes:      3",
		"Passed:            1",
		"Failed:            1",
		"Errored:           1",
		"Attempts:          4 (1 retries)",
		"smoke: probes=3",
		"budget=1s (exceeded)",
		"max in flight=3",
		"Spec Breakdown:",
		"Timeout: 1",
		"offers 500: 1",
		"status 500 not in [200]",
		"deadline exceeded",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q\n%s", want, output)
		}
	}
	if strings.Contains(output, "Thresholds:") || strings.Contains(output, "Flows:") {
		t.Errorf("report should omit empty sections\n%s", output)
	}
}

func TestPrintReportCapsFailureList(t *testing.T) {
	var outcomes []runner.ProbeOutcome
	for i := 0; i < maxListedFailures+5; i++ {
		outcomes = append(outcomes, failOutcome(fmt.Sprintf("p%d", i), 503))
	}
	run := metrics.Fold(runner.BatchResult{Name: "many", Outcomes: outcomes})

	var buf bytes.Buffer
	PrintReport(&buf, run, metrics.Summarize(run), nil, nil)

	if !strings.Contains(buf.String(), "... and 5 more") {
		t.Errorf("expected truncated failure list\n%s", buf.String())
	}
}

func TestPrintReportFlowsAndThresholds(t *testing.T) {
	run := metrics.Fold(runner.BatchResult{
		Name:     "smoke",
		Outcomes: []runner.ProbeOutcome{passOutcome("users", 200, 10*time.Millisecond)},
	})
	flows := []flow.Result{
		{Name: "book", Outcomes: []runner.ProbeOutcome{passOutcome("search", 200, 0), passOutcome("price", 200, 0)}, FailedStage: -1},
		{
			Name:        "cancel",
			Outcomes:    []runner.ProbeOutcome{failOutcome("lookup", 404)},
			FailedStage: 0,
			Err:         fmt.Errorf("stage 0 (lookup): %w: verdict fail", flow.ErrStageFailed),
		},
	}
	results := []threshold.Result{{Pass: false, Message: "FAIL probe_duration:p95 < 5: 10.00 < 5.00"}}

	var buf bytes.Buffer
	PrintReport(&buf, run, metrics.Summarize(run), results, flows)

	output := buf.String()
	for _, want := range []string{
		"book: passed (2 stages)",
		"cancel: failed at stage 0",
		"status 404 not in [200]",
		"Thresholds:",
		"FAIL probe_duration:p95 < 5",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q\n%s", want, output)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	run := sampleRun()
	summary := metrics.Summarize(run)
	flows := []flow.Result{{
		Name:        "book",
		FailedStage: 1,
		Err:         errors.New("stage 1 (price): extract: not found"),
	}}

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, run, summary, nil, flows); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if ok, _ := decoded["ok"].(bool); ok {
		t.Error("ok = true, want false")
	}
	s, ok := decoded["summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("summary missing: %v", decoded)
	}
	if total, _ := s["total"].(float64); total != 3 {
		t.Errorf("summary.total = %v, want 3", s["total"])
	}
	batches, _ := decoded["batches"].([]interface{})
	if len(batches) != 1 {
		t.Fatalf("batches = %v", decoded["batches"])
	}
	fl, _ := decoded["flows"].([]interface{})
	if len(fl) != 1 {
		t.Fatalf("flows = %v", decoded["flows"])
	}
	first := fl[0].(map[string]interface{})
	if first["error"] != "stage 1 (price): extract: not found" || first["passed"] != false {
		t.Errorf("flow = %v", first)
	}
	if !strings.Contains(buf.String(), "\n  \"summary\"") {
		t.Errorf("expected indented output\n%s", buf.String())
	}
}

func TestPassed(t *testing.T) {
	clean := metrics.Fold(runner.BatchResult{Outcomes: []runner.ProbeOutcome{passOutcome("a", 200, 0)}})
	tests := []struct {
		name       string
		run        metrics.RunResult
		thresholds []threshold.Result
		flows      []flow.Result
		want       bool
	}{
		{name: "all clean", run: clean, want: true},
		{name: "probe failure", run: sampleRun(), want: false},
		{name: "threshold failure", run: clean, thresholds: []threshold.Result{{Pass: false}}, want: false},
		{name: "flow failure", run: clean, flows: []flow.Result{{FailedStage: 0, Err: flow.ErrStageFailed}}, want: false},
		{name: "flow passed", run: clean, flows: []flow.Result{{FailedStage: -1}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Passed(tt.run, tt.thresholds, tt.flows); got != tt.want {
				t.Errorf("Passed() = %v, want %v", got, tt.want)
			}
		})
	}
}
