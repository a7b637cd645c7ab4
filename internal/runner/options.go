package runner

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds batches that do not set Concurrency.
const DefaultConcurrency = 10

// ArrivalModel controls how dispatch is paced when RatePerSecond is set.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// BatchOptions configure one RunBatch call.
type BatchOptions struct {
	Concurrency    int                         // max probes in flight (0 means DefaultConcurrency)
	Budget         time.Duration               // wall-clock budget; 0 means none
	RatePerSecond  int                         // dispatch pacing (0 means unlimited)
	ArrivalModel   ArrivalModel                // uniform (default) or poisson
	RandomSeed     int64                       // seed for the poisson sampler
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
	PoissonSampler func() float64              // optional injection for tests
}

func (o *BatchOptions) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Budget < 0 {
		o.Budget = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps dispatch evenly spaced.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
