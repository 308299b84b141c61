package service

import (
	"time"
)

// RetryPolicy controls redelivery of failed tasks
type RetryPolicy struct {
	MaxAttempts  int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxDoublings int
}

// DefaultRetryPolicy returns 5 attempts with 60s..3600s backoff doubling 3 times
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		MinBackoff:   60 * time.Second,
		MaxBackoff:   3600 * time.Second,
		MaxDoublings: 3,
	}
}

// Backoff returns the delay before the delivery following failed attempt n (1-based).
// The interval doubles MaxDoublings times, then grows linearly by the last doubled
// interval, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	retry := attempt - 1

	var d time.Duration
	if retry <= p.MaxDoublings {
		d = p.MinBackoff << uint(retry)
	} else {
		step := p.MinBackoff << uint(p.MaxDoublings)
		d = step * time.Duration(retry-p.MaxDoublings+1)
	}

	if d > p.MaxBackoff || d <= 0 {
		return p.MaxBackoff
	}
	if d < p.MinBackoff {
		return p.MinBackoff
	}
	return d
}

// Exhausted reports whether no further delivery is allowed after attempt
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
