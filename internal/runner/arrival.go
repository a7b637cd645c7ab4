package runner

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// pacer blocks the dispatcher until the next probe may start.
type pacer func(ctx context.Context) error

// newPacer returns nil when dispatch is unpaced.
func newPacer(opt BatchOptions) pacer {
	if opt.RatePerSecond <= 0 {
		return nil
	}
	if opt.ArrivalModel == ArrivalModelPoisson {
		sample := opt.PoissonSampler
		if sample == nil {
			sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		rps := float64(opt.RatePerSecond)
		// Only the dispatcher goroutine calls the pacer, so sample needs no lock.
		return func(ctx context.Context) error {
			return sleep(ctx, poissonGap(rps, sample()))
		}
	}
	return opt.LimiterFactory(opt.RatePerSecond).Wait
}

// poissonGap scales a unit exponential sample to the mean gap of rps.
func poissonGap(rps, sample float64) time.Duration {
	if rps <= 0 || sample <= 0 {
		return 0
	}
	gap := float64(time.Second) * sample / rps
	if gap > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(gap)
}
