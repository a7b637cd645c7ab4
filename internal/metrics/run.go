package metrics

import (
	"slices"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/probefire/internal/runner"
)

// RunResult folds batch results into verdict totals. Values are immutable:
// Add and Merge return new results.
type RunResult struct {
	ID         ulid.ULID            `json:"id"`
	Batches    []runner.BatchResult `json:"batches"`
	PassCount  int                  `json:"pass_count"`
	FailCount  int                  `json:"fail_count"`
	ErrorCount int                  `json:"error_count"`
}

// NewRun returns an empty run with a fresh ULID.
func NewRun() RunResult {
	return RunResult{ID: ulid.Make()}
}

// Fold builds a run from batches in one pass.
func Fold(batches ...runner.BatchResult) RunResult {
	run := NewRun()
	for _, b := range batches {
		run = run.Add(b)
	}
	return run
}

// Add returns a run that also includes b.
func (r RunResult) Add(b runner.BatchResult) RunResult {
	pass, fail, errs := Count(b)
	out := r
	out.Batches = append(slices.Clone(r.Batches), b)
	out.PassCount += pass
	out.FailCount += fail
	out.ErrorCount += errs
	return out
}

// Merge returns a run containing the batches of r followed by those of other.
// The receiver's ID is kept.
func (r RunResult) Merge(other RunResult) RunResult {
	out := r
	out.Batches = append(slices.Clone(r.Batches), other.Batches...)
	out.PassCount += other.PassCount
	out.FailCount += other.FailCount
	out.ErrorCount += other.ErrorCount
	return out
}

// Total returns the number of probe outcomes in the run.
func (r RunResult) Total() int {
	return r.PassCount + r.FailCount + r.ErrorCount
}

// OK reports whether every probe passed.
func (r RunResult) OK() bool {
	return r.FailCount == 0 && r.ErrorCount == 0
}

// Count returns the verdict totals of one batch.
func Count(b runner.BatchResult) (pass, fail, errs int) {
	for _, o := range b.Outcomes {
		switch o.Verdict {
		case runner.VerdictPass:
			pass++
		case runner.VerdictFail:
			fail++
		default:
			errs++
		}
	}
	return pass, fail, errs
}
