// Package flow runs linear pipelines of probes. Values extracted from one
// stage's response are bound into the specs of the stages after it.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/torosent/probefire/internal/endpoint"
	"github.com/torosent/probefire/internal/extractor"
	"github.com/torosent/probefire/internal/logging"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/variables"
)

// ErrStageFailed is wrapped by Result.Err when a stage ends in Fail or Error.
var ErrStageFailed = errors.New("stage failed")

// Prober runs one spec through the retry controller.
type Prober interface {
	Probe(ctx context.Context, spec *endpoint.Spec) runner.ProbeOutcome
}

// Stage is one step of a flow.
type Stage struct {
	Spec    *endpoint.Spec
	Extract []extractor.Rule
}

// Flow is an ordered list of stages.
type Flow struct {
	Name   string
	Stages []Stage
}

// Result describes one flow run. Outcomes holds one entry per stage that ran.
// FailedStage is -1 when every stage passed.
type Result struct {
	Name        string                `json:"name"`
	Outcomes    []runner.ProbeOutcome `json:"outcomes"`
	Vars        map[string]string     `json:"vars,omitempty"`
	FailedStage int                   `json:"failed_stage"`
	Err         error                 `json:"-"`
}

// OK reports whether every stage ran and passed.
func (r Result) OK() bool {
	return r.Err == nil && r.FailedStage < 0
}

// Runner executes flows with a shared prober.
type Runner struct {
	prober Prober
	logger *slog.Logger
}

// NewRunner creates a flow runner. A nil logger discards output.
func NewRunner(p Prober, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{prober: p, logger: logger}
}

// Run executes the stages in order, starting from a copy of vars. The first
// stage that does not pass, or whose required extraction finds nothing, stops
// the flow. vars itself is never modified.
func (r *Runner) Run(ctx context.Context, f Flow, vars variables.Store) Result {
	store := variables.NewStore()
	if vars != nil {
		store = vars.Clone()
	}
	result := Result{
		Name:        f.Name,
		Outcomes:    make([]runner.ProbeOutcome, 0, len(f.Stages)),
		FailedStage: -1,
	}
	logger := r.logger.With("flow", f.Name)

	for i, stage := range f.Stages {
		if err := ctx.Err(); err != nil {
			result.FailedStage = i
			result.Err = fmt.Errorf("stage %d: %w", i, err)
			break
		}

		spec := stage.Spec.Bind(store.GetAll())
		outcome := r.prober.Probe(ctx, spec)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Verdict != runner.VerdictPass {
			result.FailedStage = i
			result.Err = fmt.Errorf("stage %d (%s): %w: verdict %s", i, spec.ID(), ErrStageFailed, outcome.Verdict)
			logger.Debug("flow stopped", "stage", i, "spec", spec.ID(), "verdict", outcome.Verdict)
			break
		}

		if len(stage.Extract) == 0 {
			continue
		}
		resp := outcome.Last().Response
		values, err := extractor.Extract(resp, stage.Extract, logger)
		for k, v := range values {
			store.Set(k, v)
		}
		if err != nil {
			result.FailedStage = i
			result.Err = fmt.Errorf("stage %d (%s): %w", i, spec.ID(), err)
			logger.Debug("flow stopped", "stage", i, "spec", spec.ID(), "error", err)
			break
		}
	}

	result.Vars = store.GetAll()
	return result
}

// Outcomes flattens the outcomes of several flow runs in order.
func Outcomes(results []Result) []runner.ProbeOutcome {
	var out []runner.ProbeOutcome
	for _, r := range results {
		out = append(out, r.Outcomes...)
	}
	return out
}
