package service

import (
	"errors"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrSourceNotFound    = errors.New("source object not found")
	ErrMalformedPath     = errors.New("malformed upload path")
	ErrOutsideNamespace  = errors.New("path outside upload namespace")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNoActiveSub       = errors.New("no active subscription")
	ErrAlreadyScheduled  = errors.New("subscription already set to cancel")
	ErrNotScheduled      = errors.New("subscription is not set to cancel")
)

// permanentError marks a failure that redelivery cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent tags err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether the dispatcher should redeliver after err
func IsRetryable(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}
