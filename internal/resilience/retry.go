package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/sertdev/tubestatus/internal/clock"
)

// ExhaustedError is returned by Do when no further attempt will be made:
// either the final attempt's error was classified non-retryable, or the
// attempt budget ran out. NonRetryable distinguishes the two cases so
// callers can classify without re-running the predicate.
type ExhaustedError struct {
	LastCause    error
	Attempts     int
	NonRetryable bool
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.LastCause)
}

func (e *ExhaustedError) Unwrap() error { return e.LastCause }

// StatusCoder is implemented by upstream errors that carry an HTTP status
// code, used by the default retryability classifier.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by upstream errors that carry a server-provided
// retry-after hint (e.g. a 429's Retry-After header).
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

// RetryOpts configures the retry executor.
type RetryOpts struct {
	// MaxAttempts is the total number of attempts including the first,
	// default 4 (an initial try plus 3 retries).
	MaxAttempts int
	// BaseDelay is the first backoff delay, default 1s.
	BaseDelay time.Duration
	// MaxDelay caps the backoff, default 30s.
	MaxDelay time.Duration
	// Jitter is the ± fraction applied to the computed delay, default 0.25.
	Jitter float64
	// IsRetryable classifies an error as retryable or not. Defaults to
	// DefaultIsRetryable.
	IsRetryable func(error) bool
	// Clock is the time source used for sleeping between attempts.
	Clock clock.Clock
}

func (o RetryOpts) withDefaults() RetryOpts {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Jitter == 0 {
		o.Jitter = 0.25
	}
	if o.IsRetryable == nil {
		o.IsRetryable = DefaultIsRetryable
	}
	if o.Clock == nil {
		o.Clock = clock.Real
	}
	return o
}

// Delay computes the backoff for the given 1-indexed attempt number, before
// jitter is applied: min(MaxDelay, BaseDelay·2^(n-1)).
func Delay(opts RetryOpts, attempt int) time.Duration {
	opts = opts.withDefaults()
	d := opts.BaseDelay * time.Duration(int64(1)<<uint(attempt-1))
	if d > opts.MaxDelay || d <= 0 {
		d = opts.MaxDelay
	}
	return d
}

// jitteredDelay applies a uniform random factor in [1-jitter, 1+jitter] to
// the base delay, then overrides with a server-provided retry-after hint if
// that hint is larger than the computed backoff.
func jitteredDelay(opts RetryOpts, attempt int, err error) time.Duration {
	base := Delay(opts, attempt)

	factor := 1 - opts.Jitter + rand.Float64()*2*opts.Jitter
	d := time.Duration(float64(base) * factor)

	var ra RetryAfterer
	if errors.As(err, &ra) {
		if hint, ok := ra.RetryAfter(); ok && hint > d {
			d = hint
		}
	}
	return d
}

// DefaultIsRetryable classifies network I/O errors and transport timeouts as
// always retryable; an upstream status-coded error is retryable for 408,
// 429, and 5xx, fatal otherwise.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 408 || code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Any other error (DNS failure, connection refused, EOF mid-stream) is
	// treated as a transport error.
	return true
}

// Do executes fn, retrying with exponential backoff and jitter while the
// error is classified retryable and attempts remain. The sleep between
// attempts aborts immediately if ctx is cancelled.
func Do[T any](ctx context.Context, opts RetryOpts, fn func() (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		retryable := opts.IsRetryable(err)
		if !retryable {
			return zero, &ExhaustedError{LastCause: err, Attempts: attempt, NonRetryable: true}
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := jitteredDelay(opts, attempt, err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-opts.Clock.After(delay):
		}
	}

	return zero, &ExhaustedError{LastCause: lastErr, Attempts: opts.MaxAttempts, NonRetryable: false}
}
