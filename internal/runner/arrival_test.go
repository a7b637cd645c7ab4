package runner

import (
	"context"
	"testing"
	"time"
)

func TestPoissonGap(t *testing.T) {
	tests := []struct {
		rps, sample float64
		want        time.Duration
	}{
		{rps: 200, sample: 1, want: 5 * time.Millisecond},
		{rps: 10, sample: 0.5, want: 50 * time.Millisecond},
		{rps: 0, sample: 1, want: 0},
		{rps: 10, sample: 0, want: 0},
		{rps: 1e-12, sample: 1e12, want: time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		if got := poissonGap(tt.rps, tt.sample); got != tt.want {
			t.Errorf("poissonGap(%g, %g) = %s, want %s", tt.rps, tt.sample, got, tt.want)
		}
	}
}

func TestPoissonPacerStopsOnCancel(t *testing.T) {
	opts := BatchOptions{RatePerSecond: 1, ArrivalModel: ArrivalModelPoisson, PoissonSampler: func() float64 { return 3600 }}
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newPacer(opts)(ctx); err == nil {
		t.Fatal("pacer error = nil, want context error")
	}
}

func TestNewPacer(t *testing.T) {
	opts := BatchOptions{}
	opts.normalize()
	if newPacer(opts) != nil {
		t.Error("unpaced batches need no pacer")
	}

	opts.RatePerSecond = 1000
	if err := newPacer(opts)(context.Background()); err != nil {
		t.Errorf("uniform pacer error = %v", err)
	}

	opts.ArrivalModel = ArrivalModelPoisson
	opts.PoissonSampler = func() float64 { return 0 }
	if err := newPacer(opts)(context.Background()); err != nil {
		t.Errorf("poisson pacer error = %v", err)
	}
}
