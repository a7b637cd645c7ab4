// Package threshold evaluates run-level performance gates such as
// "probe_duration:p95 < 500" against a metrics summary.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/torosent/probefire/internal/metrics"
)

// Supported metric names.
const (
	MetricDuration = "probe_duration" // latency of final responses, ms
	MetricFailed   = "probe_failed"   // Fail verdicts
	MetricErrored  = "probe_errored"  // Error verdicts
	MetricProbes   = "probes"         // all probes
	MetricOverrun  = "batch_overrun"  // batches over budget
)

var (
	thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

	validAggregates = map[string][]string{
		MetricDuration: {"p50", "p90", "p95", "p99", "avg", "mean", "min", "max"},
		MetricFailed:   {"count", "rate"},
		MetricErrored:  {"count", "rate"},
		MetricProbes:   {"count", "rate"},
		MetricOverrun:  {"count"},
	}
	validOperators = []string{"<", "<=", ">", ">=", "=="}
)

// Threshold is a parsed performance gate.
type Threshold struct {
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
	Raw       string  `json:"raw"`
}

// Result is the outcome of one threshold.
type Result struct {
	Threshold Threshold `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

// Evaluator evaluates thresholds against run summaries.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against summary.
func (e *Evaluator) Evaluate(summary metrics.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, summary))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, summary metrics.Summary) Result {
	actual, err := metricValue(t, summary)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("error: %v", err)}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses "metric:aggregate op value", for example:
//
//	probe_duration:p95 < 500   latency percentile in ms
//	probe_failed:rate < 0.01   share of Fail verdicts
//	probe_errored:count == 0   Error verdicts
//	probes:rate > 20           probes per second
//	batch_overrun:count == 0   batches over budget
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	m := thresholdPattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'probe_duration:p95 < 500')", s)
	}
	metric, aggregate, operator := m[1], m[2], m[3]

	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[4], err)
	}

	aggregates, ok := validAggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s, %s, %s, %s, %s)", metric,
			MetricDuration, MetricFailed, MetricErrored, MetricProbes, MetricOverrun)
	}
	if !slices.Contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !slices.Contains(validOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: %s)", operator, strings.Join(validOperators, ", "))
	}

	return Threshold{Metric: metric, Aggregate: aggregate, Operator: operator, Value: value, Raw: s}, nil
}

// ParseMultiple parses every string and reports all failures together.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func metricValue(t Threshold, s metrics.Summary) (float64, error) {
	switch t.Metric {
	case MetricDuration:
		return latencyValue(t.Aggregate, s.Latency)
	case MetricFailed:
		return countOrRate(t.Aggregate, s.Failed, s.Total)
	case MetricErrored:
		return countOrRate(t.Aggregate, s.Errored, s.Total)
	case MetricProbes:
		if t.Aggregate == "rate" {
			return s.ProbesPerS, nil
		}
		return float64(s.Total), nil
	case MetricOverrun:
		return float64(s.Overruns), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func latencyValue(aggregate string, l metrics.LatencyStats) (float64, error) {
	switch aggregate {
	case "p50":
		return l.P50LatencyMs, nil
	case "p90":
		return l.P90LatencyMs, nil
	case "p95":
		return l.P95LatencyMs, nil
	case "p99":
		return l.P99LatencyMs, nil
	case "avg", "mean":
		return l.MeanLatencyMs, nil
	case "min":
		return l.MinLatencyMs, nil
	case "max":
		return l.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", aggregate, MetricDuration)
	}
}

func countOrRate(aggregate string, n, total int) (float64, error) {
	switch aggregate {
	case "count":
		return float64(n), nil
	case "rate":
		if total == 0 {
			return 0, nil
		}
		return float64(n) / float64(total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q (use 'count' or 'rate')", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
