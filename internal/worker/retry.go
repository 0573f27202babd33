package worker

import "time"

// RetryPolicy is the backoff schedule for background jobs that talk to the
// payment rail. Attempts are 1-based.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the hold-off before the given attempt, growing
// geometrically from InitialDelay and clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if r.MaxDelay > 0 && delay >= float64(r.MaxDelay) {
			return r.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Exhausted reports whether the failure count has passed the retry budget.
func (r RetryPolicy) Exhausted(failures int) bool {
	return r.MaxRetries > 0 && failures > r.MaxRetries
}
