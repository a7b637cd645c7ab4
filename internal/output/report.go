package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/torosent/probefire/internal/flow"
	"github.com/torosent/probefire/internal/metrics"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/threshold"
)

// maxListedFailures caps the failure list in the text report.
const maxListedFailures = 20

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, run metrics.RunResult, summary metrics.Summary, thresholds []threshold.Result, flows []flow.Result) {
	fmt.Fprintln(w, "\n--- Probe Results ---")
	fmt.Fprintf(w, "Run:               %s\n", summary.RunID)
	fmt.Fprintf(w, "Total Probes:      %d\n", summary.Total)
	fmt.Fprintf(w, "Passed:            %d\n", summary.Passed)
	fmt.Fprintf(w, "Failed:            %d\n", summary.Failed)
	fmt.Fprintf(w, "Errored:           %d\n", summary.Errored)
	fmt.Fprintf(w, "Attempts:          %d (%d retries)\n", summary.Attempts, summary.Retries)
	fmt.Fprintf(w, "Duration:          %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Probes/sec:        %.2f\n", summary.ProbesPerS)

	if summary.Latency.Count > 0 {
		fmt.Fprintln(w, "\nLatency:")
		fmt.Fprintf(w, "  Min:             %s\n", summary.Latency.MinLatency)
		fmt.Fprintf(w, "  Max:             %s\n", summary.Latency.MaxLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", summary.Latency.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", summary.Latency.P50Latency)
		fmt.Fprintf(w, "  P90:             %s\n", summary.Latency.P90Latency)
		fmt.Fprintf(w, "  P95:             %s\n", summary.Latency.P95Latency)
		fmt.Fprintf(w, "  P99:             %s\n", summary.Latency.P99Latency)
	}

	if len(run.Batches) > 0 {
		fmt.Fprintln(w, "\nBatches:")
		for _, b := range run.Batches {
			writeBatch(w, b)
		}
	}

	if len(summary.Specs) > 1 {
		fmt.Fprintln(w, "\nSpec Breakdown:")
		for _, spec := range summary.Specs {
			fmt.Fprintf(w, "  - %s: total=%d, passed=%d, failed=%d, errored=%d, p95=%s\n",
				spec.ID, spec.Total, spec.Passed, spec.Failed, spec.Errored, spec.Latency.P95Latency)
		}
	}

	if len(summary.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		labels := make([]string, 0, len(summary.Errors))
		for label := range summary.Errors {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(w, "  %s: %d\n", label, summary.Errors[label])
		}
	}

	if len(summary.Statuses) > 0 {
		fmt.Fprintln(w, "\nFailure Statuses:")
		for _, row := range summary.Statuses {
			fmt.Fprintf(w, "  %s %s: %d\n", row.Spec, row.Status, row.Count)
		}
	}

	writeFailures(w, run)

	if len(flows) > 0 {
		fmt.Fprintln(w, "\nFlows:")
		for _, f := range flows {
			writeFlow(w, f)
		}
	}

	if len(thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, r := range thresholds {
			fmt.Fprintf(w, "  %s\n", r.Message)
		}
	}
}

func writeBatch(w io.Writer, b runner.BatchResult) {
	pass, fail, errs := metrics.Count(b)
	line := fmt.Sprintf("  - %s: probes=%d, passed=%d, failed=%d, errored=%d, elapsed=%s, max in flight=%d",
		b.Name, len(b.Outcomes), pass, fail, errs, b.Elapsed().Round(time.Millisecond), b.MaxInFlight)
	if b.Budget > 0 {
		line += fmt.Sprintf(", budget=%s", b.Budget)
		if b.BudgetExceeded {
			line += " (exceeded)"
		}
	}
	fmt.Fprintln(w, line)
}

func writeFailures(w io.Writer, run metrics.RunResult) {
	var listed, skipped int
	for _, b := range run.Batches {
		for _, o := range b.Outcomes {
			if o.Verdict == runner.VerdictPass {
				continue
			}
			if listed == 0 {
				fmt.Fprintln(w, "\nFailures:")
			}
			if listed >= maxListedFailures {
				skipped++
				continue
			}
			listed++
			writeOutcome(w, "  ", o)
		}
	}
	if skipped > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", skipped)
	}
}

func writeOutcome(w io.Writer, indent string, o runner.ProbeOutcome) {
	fmt.Fprintf(w, "%s- %s [%s] after %d attempt(s)\n", indent, o.SpecID, o.Verdict, len(o.Attempts))
	if o.Err != nil {
		fmt.Fprintf(w, "%s    %s: %s\n", indent, metrics.FriendlyErrorKind(string(o.Err.Kind)), o.Err.Message)
	}
	for _, f := range o.FailedAssertions {
		fmt.Fprintf(w, "%s    %s: %s\n", indent, f.Assertion, f.Message)
	}
}

func writeFlow(w io.Writer, f flow.Result) {
	if f.OK() {
		fmt.Fprintf(w, "  - %s: passed (%d stages)\n", f.Name, len(f.Outcomes))
		return
	}
	fmt.Fprintf(w, "  - %s: failed at stage %d: %v\n", f.Name, f.FailedStage, f.Err)
	if n := len(f.Outcomes); n > 0 && f.Outcomes[n-1].Verdict != runner.VerdictPass {
		writeOutcome(w, "    ", f.Outcomes[n-1])
	}
}

// jsonReport is the document written by PrintJSONReport.
type jsonReport struct {
	Summary    metrics.Summary      `json:"summary"`
	Batches    []runner.BatchResult `json:"batches"`
	Flows      []jsonFlow           `json:"flows,omitempty"`
	Thresholds []threshold.Result   `json:"thresholds,omitempty"`
	OK         bool                 `json:"ok"`
}

type jsonFlow struct {
	flow.Result
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, run metrics.RunResult, summary metrics.Summary, thresholds []threshold.Result, flows []flow.Result) error {
	report := jsonReport{
		Summary:    summary,
		Batches:    run.Batches,
		Thresholds: thresholds,
		OK:         Passed(run, thresholds, flows),
	}
	for _, f := range flows {
		jf := jsonFlow{Result: f, Passed: f.OK()}
		if f.Err != nil {
			jf.Error = f.Err.Error()
		}
		report.Flows = append(report.Flows, jf)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Passed reports whether the run should exit successfully: no failed or
// errored probes, every flow completed and every threshold held.
func Passed(run metrics.RunResult, thresholds []threshold.Result, flows []flow.Result) bool {
	if !run.OK() || !threshold.AllPassed(thresholds) {
		return false
	}
	for _, f := range flows {
		if !f.OK() {
			return false
		}
	}
	return true
}
