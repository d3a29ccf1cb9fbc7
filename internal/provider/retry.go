package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds the attempts made by Retry
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts spaced 500ms apart
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The error of the final attempt is returned as is.
// retryable decides which errors are worth another attempt.
func Retry[T any](
	ctx context.Context,
	policy RetryPolicy,
	retryable func(error) bool,
	op func(ctx context.Context) (T, error),
	logger *zap.Logger,
) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Provider call failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next))
	}

	v, err := backoff.RetryNotifyWithData(operation, policy.backOff(ctx), notify)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return v, perm.Err
		}
		return v, err
	}
	return v, nil
}

// IsRetryable is the default classification used by the adapters
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
