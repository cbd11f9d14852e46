package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// schedule yields the wait before each retry: base * 2^(n-1), jittered,
// capped at max and never shorter than the previous wait.
type schedule struct {
	b    *backoff.ExponentialBackOff
	max  time.Duration
	prev time.Duration
}

func newSchedule(base, max time.Duration, jitter float64) *schedule {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: jitter,
		Multiplier:          2,
		MaxInterval:         max,
		// The total wait ceiling is enforced by the client against its own
		// clock so tests can fake sleeping.
		MaxElapsedTime: 0,
		Stop:           backoff.Stop,
		Clock:          backoff.SystemClock,
	}
	b.Reset()
	return &schedule{b: b, max: max}
}

func (s *schedule) next() time.Duration {
	d := s.b.NextBackOff()
	if s.max > 0 && d > s.max {
		d = s.max
	}
	if d < s.prev {
		d = s.prev
	}
	s.prev = d
	return d
}
