package httputil

import (
	"context"
	"errors"
	"slices"
	"time"
)

// DefaultRetryStatuses are the HTTP statuses retried by [DefaultPolicy].
var DefaultRetryStatuses = []int{408, 425, 429, 500, 502, 503, 504}

// DefaultMaxAttempts is one initial attempt plus three retries.
const DefaultMaxAttempts = 4

// RetryableError wraps an error to indicate it should trigger a retry
// regardless of the status that accompanied it. The fetcher uses it for
// bodies that break off mid-read.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. attempt is 1 for the first attempt. status is zero when no
// response was received.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error, status int) bool
	Delay(attempt int, err error, status int) time.Duration
}

// Backoff computes the wait before the next attempt.
type Backoff interface {
	Delay(attempt int, err error, status int) time.Duration
}

// MaxExponentialDelay caps an [ExponentialDelay] that sets no Max.
const MaxExponentialDelay = 10 * time.Minute

// ExponentialDelay waits Base·2^(attempt-1), capped at Max, or at
// [MaxExponentialDelay] when Max is not positive.
type ExponentialDelay struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements [Backoff].
func (e ExponentialDelay) Delay(attempt int, _ error, _ int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	limit := e.Max
	if limit <= 0 {
		limit = MaxExponentialDelay
	}
	shift := max(attempt-1, 0)
	if shift >= 63 || e.Base > limit>>shift {
		return limit
	}
	return e.Base << shift
}

// ConstantDelay waits the same duration before every retry.
type ConstantDelay time.Duration

// Delay implements [Backoff].
func (c ConstantDelay) Delay(int, error, int) time.Duration { return time.Duration(c) }

// StatusPolicy retries transport failures, [RetryableError]s and responses
// whose status is listed in Statuses.
type StatusPolicy struct {
	Statuses []int
	Backoff  Backoff // nil means ExponentialDelay with a one second base
}

// ShouldRetry implements [RetryPolicy].
func (p StatusPolicy) ShouldRetry(_ int, err error, status int) bool {
	if isRetryable(err) {
		return true
	}
	if status == 0 {
		return err != nil
	}
	return slices.Contains(p.Statuses, status)
}

// Delay implements [RetryPolicy].
func (p StatusPolicy) Delay(attempt int, err error, status int) time.Duration {
	if p.Backoff == nil {
		return ExponentialDelay{Base: time.Second}.Delay(attempt, err, status)
	}
	return p.Backoff.Delay(attempt, err, status)
}

// PolicyFunc builds a policy from plain functions. A nil Retry defers to
// [DefaultPolicy]; a nil Wait uses the default exponential delay.
type PolicyFunc struct {
	Retry func(attempt int, err error, status int) bool
	Wait  func(attempt int, err error, status int) time.Duration
}

// ShouldRetry implements [RetryPolicy].
func (p PolicyFunc) ShouldRetry(attempt int, err error, status int) bool {
	if p.Retry == nil {
		return DefaultPolicy().ShouldRetry(attempt, err, status)
	}
	return p.Retry(attempt, err, status)
}

// Delay implements [RetryPolicy].
func (p PolicyFunc) Delay(attempt int, err error, status int) time.Duration {
	if p.Wait == nil {
		return DefaultPolicy().Delay(attempt, err, status)
	}
	return p.Wait(attempt, err, status)
}

// DefaultPolicy retries [DefaultRetryStatuses] and transport failures with
// a one second exponential delay.
func DefaultPolicy() RetryPolicy {
	return StatusPolicy{
		Statuses: DefaultRetryStatuses,
		Backoff:  ExponentialDelay{Base: time.Second},
	}
}

// Retrier runs an operation until it succeeds, the policy declines, the
// attempts run out or the context ends.
type Retrier struct {
	Policy      RetryPolicy // nil means DefaultPolicy
	MaxAttempts int         // values below 1 mean DefaultMaxAttempts

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error, status int)
}

// Do calls fn with the 1-based attempt number. fn reports the status it
// observed (zero for none) and its error. Do returns the number of attempts
// made and the last error, or ctx.Err() once the context is done.
func (r Retrier) Do(ctx context.Context, fn func(attempt int) (status int, err error)) (int, error) {
	policy := r.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		status, err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= attempts || !policy.ShouldRetry(attempt, err, status) {
			return attempt, err
		}

		delay := policy.Delay(attempt, err, status)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err, status)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
