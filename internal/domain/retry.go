// Package domain holds the job model, its state machine, the retry policy,
// and the ports the engine is wired through.
package domain

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// RetryPolicy bounds the delay between attempts.
type RetryPolicy struct {
	// Base is the ceiling for the first retry.
	Base time.Duration
	// Max caps the exponential growth.
	Max time.Duration
}

// DefaultRetryPolicy matches the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Second, Max: 30 * time.Second}
}

// Backoff returns the delay before retry number attempt (1-based), drawn
// uniformly from [0, min(Max, Base*2^(attempt-1))] (full jitter).
func (p RetryPolicy) Backoff(rng *rand.Rand, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := p.Base
	for i := 1; i < attempt && ceiling < p.Max; i++ {
		ceiling *= 2
	}
	if ceiling > p.Max {
		ceiling = p.Max
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(ceiling) + 1))
}

// ClassifyError maps a processing failure to a job error code. Timeouts and
// reachability problems are transient; explicit permanent markers and
// validation failures are not. Unknown errors default to transient so an
// unclassified hiccup still gets its retries.
func ClassifyError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrInvalidArgument):
		return ErrorCodePermanent
	case errors.Is(err, ErrInternal):
		return ErrorCodeInternal
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return ErrorCodeTransient
	default:
		return ErrorCodeTransient
	}
}

// Retryable reports whether the error class permits another attempt.
func Retryable(err error) bool {
	return ClassifyError(err) == ErrorCodeTransient
}
