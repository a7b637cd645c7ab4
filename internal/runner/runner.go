package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/probefire/internal/endpoint"
	"github.com/torosent/probefire/internal/transport"
)

// BatchResult is the immutable result of one RunBatch call.
type BatchResult struct {
	Name           string         `json:"name"`
	Outcomes       []ProbeOutcome `json:"outcomes"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Budget         time.Duration  `json:"-"`
	BudgetExceeded bool           `json:"budget_exceeded"`
	Concurrency    int            `json:"concurrency"`
	MaxInFlight    int            `json:"max_in_flight"`
}

// Elapsed returns the batch wall-clock duration.
func (b BatchResult) Elapsed() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

// Scheduler fans probes out over a bounded worker pool.
type Scheduler struct {
	prober *Prober
}

// NewScheduler returns a Scheduler that runs each spec through p.
func NewScheduler(p *Prober) *Scheduler {
	return &Scheduler{prober: p}
}

// RunBatch probes every spec with at most opts.Concurrency in flight. A new
// spec starts only when a worker frees up. Outcomes keep submission order.
// Exceeding the budget is reported, never enforced: in-flight probes run to
// completion.
func (s *Scheduler) RunBatch(ctx context.Context, name string, specs []*endpoint.Spec, opts BatchOptions) BatchResult {
	opts.normalize()
	pace := newPacer(opts)

	workers := opts.Concurrency
	if workers > len(specs) {
		workers = len(specs)
	}

	outcomes := make([]ProbeOutcome, len(specs))
	dispatched := make([]bool, len(specs))
	var inFlight, maxInFlight int64

	startedAt := time.Now()

	// Dispatcher: hands out indices in submission order. The unbuffered
	// channel means an index is only taken by an idle worker.
	permits := make(chan int)
	go func() {
		defer close(permits)
		for i := range specs {
			if ctx.Err() != nil {
				return
			}
			if pace != nil {
				if err := pace(ctx); err != nil {
					return
				}
			}
			select {
			case permits <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range permits {
				current := atomic.AddInt64(&inFlight, 1)
				for {
					seen := atomic.LoadInt64(&maxInFlight)
					if current <= seen || atomic.CompareAndSwapInt64(&maxInFlight, seen, current) {
						break
					}
				}
				dispatched[i] = true
				outcomes[i] = s.prober.Probe(ctx, specs[i])
				atomic.AddInt64(&inFlight, -1)
			}
		}()
	}
	wg.Wait()

	// Specs never dispatched because the context ended are reported as canceled.
	for i, ok := range dispatched {
		if ok {
			continue
		}
		err := transport.Classify(ctx, ctx.Err())
		if err == nil {
			err = &transport.Error{Kind: transport.KindCanceled, Message: "not dispatched"}
		}
		outcomes[i] = ProbeOutcome{SpecID: specs[i].ID(), Verdict: VerdictError, Err: err}
	}

	finishedAt := time.Now()
	return BatchResult{
		Name:           name,
		Outcomes:       outcomes,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
		Budget:         opts.Budget,
		BudgetExceeded: opts.Budget > 0 && finishedAt.Sub(startedAt) > opts.Budget,
		Concurrency:    opts.Concurrency,
		MaxInFlight:    int(atomic.LoadInt64(&maxInFlight)),
	}
}

// Repeat returns n references to spec, for "fire N requests" load runs.
func Repeat(spec *endpoint.Spec, n int) []*endpoint.Spec {
	if n <= 0 {
		return nil
	}
	out := make([]*endpoint.Spec, n)
	for i := range out {
		out[i] = spec
	}
	return out
}
