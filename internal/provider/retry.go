package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Default retry policy for provider calls.
const (
	DefaultAttempts   = 5
	DefaultRetryDelay = 5 * time.Second
)

// RetryPolicy is a fixed-delay bounded retry.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts with a 5 second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy()
	}
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Retry runs fn until it succeeds, returns a non-transient error, the
// attempts run out, or ctx is done. Only errors classified as ErrTransient
// are retried; the last error is returned unchanged.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	operation := func() (T, error) {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrTransient) && !IsCancelled(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		log.Debug().Err(err).Str("op", op).Dur("retry_in", next).Msg("provider call failed, retrying")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(uint(policy.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}

// Required runs fn under Retry and turns an exhausted transient failure into
// ErrConfiguration. Use it for calls the crawl cannot do without.
func Required[T any](ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	res, err := Retry(ctx, policy, op, fn)
	if err != nil && errors.Is(err, ErrTransient) {
		return res, Configuration(op, err)
	}
	return res, err
}

// Optional runs fn for a resource kind the crawl can live without. fn is
// expected to retry its own calls. Permission-denied and not-supported
// failures are logged and give the zero value; any other failure is also
// appended to elog. Only cancellation is returned to the caller.
func Optional[T any](ctx context.Context, elog *ErrorLog, op string, fn func(context.Context) (T, error)) (T, error) {
	res, err := fn(ctx)
	if err == nil {
		return res, nil
	}

	var zero T
	switch {
	case IsCancelled(err) || ctx.Err() != nil:
		return zero, err
	case IsDegradable(err):
		log.Warn().Err(err).Str("op", op).Msg("optional resource kind unavailable, skipping")
	default:
		log.Error().Err(err).Str("op", op).Msg("optional resource kind failed, skipping")
		if lerr := elog.Record(op, err); lerr != nil {
			log.Warn().Err(lerr).Str("op", op).Msg("failed to write error report")
		}
	}
	return zero, nil
}
