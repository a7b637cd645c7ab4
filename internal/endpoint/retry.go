package endpoint

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/torosent/probefire/internal/transport"
)

// RetryPolicy controls soft-failure retries for one probe.
type RetryPolicy struct {
	TriggerStatuses      []int                           // statuses that schedule another attempt
	MaxAttempts          int                             // total attempts including the initial try
	Backoff              func(attempt int) time.Duration // delay after the given 1-based attempt
	RetryTransportErrors []transport.ErrorKind           // transport failures treated like trigger statuses
}

// NoRetry is a single-attempt policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// ShouldRetryStatus reports whether status schedules a retry.
func (p RetryPolicy) ShouldRetryStatus(status int) bool {
	return slices.Contains(p.TriggerStatuses, status)
}

// ShouldRetryError reports whether a transport error of this kind schedules a retry.
func (p RetryPolicy) ShouldRetryError(kind transport.ErrorKind) bool {
	if kind == transport.KindCanceled {
		return false
	}
	return slices.Contains(p.RetryTransportErrors, kind)
}

// Delay returns the wait after the given attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	d := p.Backoff(attempt)
	if d < 0 {
		return 0
	}
	return d
}

func (p RetryPolicy) clone() RetryPolicy {
	p.TriggerStatuses = slices.Clone(p.TriggerStatuses)
	p.RetryTransportErrors = slices.Clone(p.RetryTransportErrors)
	return p
}

// ConstantBackoff waits d between every attempt.
func ConstantBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles base per attempt up to max. With jitter, up to
// half of the computed delay is added at random.
func ExponentialBackoff(base, max time.Duration, jitter bool) func(int) time.Duration {
	var src *jitterSource
	if jitter {
		src = &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		backoff := base
		for i := 1; i < attempt && (max <= 0 || backoff < max); i++ {
			backoff *= 2
		}
		if max > 0 && backoff > max {
			backoff = max
		}
		return backoff + src.jitter(backoff/2)
	}
}

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max) + 1))
}
