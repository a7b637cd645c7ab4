package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/endpoint"
	"github.com/torosent/probefire/internal/logging"
	"github.com/torosent/probefire/internal/tracing"
	"github.com/torosent/probefire/internal/transport"
)

// Verdict is the terminal classification of a probe.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// State is a Retry Controller state.
type State string

const (
	StatePending        State = "pending"
	StateAttempting     State = "attempting"
	StateSuccess        State = "success"
	StateSoftFailRetry  State = "soft_fail_retry"
	StateHardFail       State = "hard_fail"
	StateTransportError State = "transport_error"
)

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateHardFail || s == StateTransportError
}

// Attempt is one transport call. Exactly one of Response and Err is set.
type Attempt struct {
	Number   int
	Started  time.Time
	Response *transport.Response
	Err      *transport.Error
	Backoff  time.Duration // slept after this attempt before the next one
}

type attemptJSON struct {
	Number    int     `json:"number"`
	Started   string  `json:"started"`
	Status    int     `json:"status,omitempty"`
	ElapsedMs float64 `json:"elapsed_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	BackoffMs float64 `json:"backoff_ms,omitempty"`
}

// MarshalJSON omits response bodies and headers.
func (a Attempt) MarshalJSON() ([]byte, error) {
	out := attemptJSON{
		Number:    a.Number,
		Started:   a.Started.UTC().Format(time.RFC3339Nano),
		BackoffMs: float64(a.Backoff) / float64(time.Millisecond),
	}
	if a.Response != nil {
		out.Status = a.Response.Status
		out.ElapsedMs = float64(a.Response.Elapsed) / float64(time.Millisecond)
	}
	if a.Err != nil {
		out.Error = a.Err.Error()
		out.ErrorKind = string(a.Err.Kind)
	}
	return json.Marshal(out)
}

// ProbeOutcome is the immutable result of one probe.
type ProbeOutcome struct {
	SpecID           string              `json:"spec_id"`
	Attempts         []Attempt           `json:"attempts"`
	Verdict          Verdict             `json:"verdict"`
	FailedAssertions []assertion.Failure `json:"failed_assertions,omitempty"`
	Err              *transport.Error    `json:"error,omitempty"`
	TotalElapsed     time.Duration       `json:"-"`
}

// Last returns the final attempt, or nil when none was made.
func (o ProbeOutcome) Last() *Attempt {
	if len(o.Attempts) == 0 {
		return nil
	}
	return &o.Attempts[len(o.Attempts)-1]
}

// ErrorKind returns the kind of the terminal error, or "" for Pass/Fail.
func (o ProbeOutcome) ErrorKind() transport.ErrorKind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

// Transition is reported to an Observer on every state change.
type Transition struct {
	SpecID  string
	Attempt int
	From    State
	To      State
	At      time.Time
}

// Observer receives state transitions. It is called synchronously from the
// probing goroutine and must not block.
type Observer func(Transition)

// Prober runs the Retry Controller for individual specs.
type Prober struct {
	transport transport.Transport
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  Observer
	now       func() time.Time
}

// ProberOption customizes a Prober.
type ProberOption func(*Prober)

// WithLogger sets the logger. Retries are logged at debug, transport errors at warn.
func WithLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer records one span per probe.
func WithTracer(t trace.Tracer) ProberOption {
	return func(p *Prober) { p.tracer = t }
}

// WithObserver registers a transition hook.
func WithObserver(o Observer) ProberOption {
	return func(p *Prober) { p.observer = o }
}

// NewProber returns a Prober using t for every attempt.
func NewProber(t transport.Transport, opts ...ProberOption) *Prober {
	p := &Prober{transport: t, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe executes spec until a terminal state is reached. Verdicts are scored
// on the last attempt only. The returned outcome is never mutated afterwards.
func (p *Prober) Probe(ctx context.Context, spec *endpoint.Spec) ProbeOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	start := p.now()
	run := &probeRun{prober: p, specID: spec.ID(), state: StatePending}

	var span trace.Span
	if p.tracer != nil {
		ctx, span = tracing.StartProbeSpan(ctx, p.tracer, spec.ID())
		run.span = span
	}

	outcome := run.execute(ctx, spec)
	outcome.TotalElapsed = p.now().Sub(start)

	if span != nil {
		var spanErr error
		if outcome.Verdict != VerdictPass {
			spanErr = fmt.Errorf("probe %s: %s", outcome.SpecID, outcome.Verdict)
		}
		tracing.EndSpan(span, spanErr,
			tracing.AttrVerdict.String(string(outcome.Verdict)),
			tracing.AttrAttempts.Int(len(outcome.Attempts)),
		)
	}
	return outcome
}

type probeRun struct {
	prober *Prober
	specID string
	state  State
	span   trace.Span
}

func (r *probeRun) transition(attempt int, to State) {
	from := r.state
	r.state = to
	if r.span != nil {
		tracing.RecordTransition(r.span, attempt, string(from), string(to))
	}
	if r.prober.observer != nil {
		r.prober.observer(Transition{SpecID: r.specID, Attempt: attempt, From: from, To: to, At: r.prober.now()})
	}
}

func (r *probeRun) execute(ctx context.Context, spec *endpoint.Spec) ProbeOutcome {
	p := r.prober
	logger := p.logger.With("spec", r.specID)
	policy := spec.Retry()
	outcome := ProbeOutcome{SpecID: r.specID}

	req, err := spec.Request()
	if err != nil {
		// Nothing was sent, so no attempt is recorded.
		logger.Warn("request could not be built", "error", err)
		return r.errored(outcome, &transport.Error{Kind: transport.KindOther, Message: err.Error(), Err: err})
	}

	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return r.errored(outcome, transport.Classify(ctx, err))
		}

		r.transition(number, StateAttempting)
		attempt := Attempt{Number: number, Started: p.now()}
		resp, err := p.transport.Execute(ctx, req)
		if err != nil {
			attempt.Err = transport.Classify(ctx, err)
		} else {
			attempt.Response = resp
		}
		outcome.Attempts = append(outcome.Attempts, attempt)
		last := &outcome.Attempts[len(outcome.Attempts)-1]

		remaining := number < policy.MaxAttempts
		retry := remaining && ((last.Err != nil && policy.ShouldRetryError(last.Err.Kind)) ||
			(last.Response != nil && policy.ShouldRetryStatus(last.Response.Status)))

		if !retry {
			if last.Err != nil {
				r.transition(number, StateTransportError)
				logger.Warn("transport error", "attempt", number, "kind", last.Err.Kind, "error", last.Err.Message)
				return r.errored(outcome, last.Err)
			}
			result := assertion.Evaluate(last.Response, spec.Checks())
			if result.Passed {
				r.transition(number, StateSuccess)
				outcome.Verdict = VerdictPass
				return outcome
			}
			r.transition(number, StateHardFail)
			outcome.Verdict = VerdictFail
			outcome.FailedAssertions = result.Failed
			return outcome
		}

		r.transition(number, StateSoftFailRetry)
		delay := policy.Delay(number)
		last.Backoff = delay
		logger.Debug("retrying probe", "attempt", number, "backoff", delay, "reason", retryReason(last))
		if err := sleep(ctx, delay); err != nil {
			last.Backoff = 0
			return r.errored(outcome, &transport.Error{Kind: transport.KindCanceled, Message: "canceled during backoff", Err: err})
		}
	}
}

func (r *probeRun) errored(outcome ProbeOutcome, err *transport.Error) ProbeOutcome {
	if !r.state.Terminal() {
		r.transition(len(outcome.Attempts), StateTransportError)
	}
	outcome.Verdict = VerdictError
	outcome.Err = err
	return outcome
}

func retryReason(a *Attempt) string {
	if a.Err != nil {
		return string(a.Err.Kind)
	}
	return fmt.Sprintf("status %d", a.Response.Status)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCanceled reports whether the outcome ended because its context was canceled.
func IsCanceled(o ProbeOutcome) bool {
	return o.Err != nil && (o.Err.Kind == transport.KindCanceled || errors.Is(o.Err, context.Canceled))
}
