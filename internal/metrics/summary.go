package metrics

import (
	"sort"
	"strconv"
	"time"

	"github.com/torosent/probefire/internal/runner"
)

// Summary is the run-level report model.
type Summary struct {
	RunID      string  `json:"run_id"`
	Total      int     `json:"total"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Errored    int     `json:"errored"`
	Batches    int     `json:"batches"`
	Overruns   int     `json:"batch_overruns"`
	DurationMs float64 `json:"duration_ms"`
	ProbesPerS float64 `json:"probes_per_sec"`
	Attempts   int     `json:"attempts"`
	Retries    int     `json:"retries"`

	Latency  LatencyStats   `json:"latency"`
	Specs    []SpecStats    `json:"specs,omitempty"`
	Errors   map[string]int `json:"errors,omitempty"`
	Statuses []StatusBucket `json:"failure_statuses,omitempty"`
	Duration time.Duration  `json:"-"`
}

// SpecStats breaks a summary down by spec id.
type SpecStats struct {
	ID      string       `json:"id"`
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Errored int          `json:"errored"`
	Latency LatencyStats `json:"latency"`
}

// Summarize computes latency percentiles over final attempts (those that got a
// response) plus per-spec, per-error-kind and failing-status breakdowns.
func Summarize(run RunResult) Summary {
	overall := NewCollector()
	perSpec := map[string]*specAccumulator{}
	errs := map[string]int{}
	statuses := map[string]map[string]int{}

	s := Summary{
		RunID:   run.ID.String(),
		Passed:  run.PassCount,
		Failed:  run.FailCount,
		Errored: run.ErrorCount,
		Total:   run.Total(),
		Batches: len(run.Batches),
	}

	for _, b := range run.Batches {
		s.Duration += b.Elapsed()
		if b.BudgetExceeded {
			s.Overruns++
		}
		for _, o := range b.Outcomes {
			acc := perSpec[o.SpecID]
			if acc == nil {
				acc = &specAccumulator{collector: NewCollector()}
				perSpec[o.SpecID] = acc
			}
			acc.total++
			s.Attempts += len(o.Attempts)
			if len(o.Attempts) > 1 {
				s.Retries += len(o.Attempts) - 1
			}

			switch o.Verdict {
			case runner.VerdictPass:
				acc.passed++
			case runner.VerdictFail:
				acc.failed++
			default:
				acc.errored++
				if kind := o.ErrorKind(); kind != "" {
					errs[FriendlyErrorKind(string(kind))]++
				}
			}

			last := o.Last()
			if last == nil || last.Response == nil {
				continue
			}
			overall.Record(last.Response.Elapsed)
			acc.collector.Record(last.Response.Elapsed)
			if o.Verdict == runner.VerdictFail {
				if statuses[o.SpecID] == nil {
					statuses[o.SpecID] = map[string]int{}
				}
				statuses[o.SpecID][strconv.Itoa(last.Response.Status)]++
			}
		}
	}

	s.Latency = overall.Stats()
	s.DurationMs = ms(s.Duration)
	if s.Duration > 0 && s.Total > 0 {
		s.ProbesPerS = float64(s.Total) / s.Duration.Seconds()
	}
	if len(errs) > 0 {
		s.Errors = errs
	}
	s.Statuses = FlattenStatusBuckets(statuses)

	ids := make([]string, 0, len(perSpec))
	for id := range perSpec {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		acc := perSpec[id]
		s.Specs = append(s.Specs, SpecStats{
			ID:      id,
			Total:   acc.total,
			Passed:  acc.passed,
			Failed:  acc.failed,
			Errored: acc.errored,
			Latency: acc.collector.Stats(),
		})
	}
	return s
}

type specAccumulator struct {
	collector             *Collector
	total, passed, failed int
	errored               int
}
