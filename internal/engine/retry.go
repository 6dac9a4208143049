package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bamsammich/ferry/internal/backend"
)

// RetryPolicy bounds retries of transient backend errors.
type RetryPolicy struct {
	MaxAttempts int // including the first attempt
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 = backoff's default ceiling
}

// DefaultRetryPolicy allows five attempts backing off from 200ms to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// BackOff returns the schedule between attempts: doubling from BaseDelay
// with ±25% jitter, the base capped at MaxDelay, stopping after
// MaxAttempts-1 retries or once ctx is done.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0.25
	exp.Multiplier = 2
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	retries := uint64(max(p.MaxAttempts-1, 0)) //nolint:gosec // non-negative
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// retry runs op under the executor's policy. Errors that are not transient,
// or that arrive after ctx is done, end the loop at once and are returned
// unwrapped.
func (x *Executor) retry(ctx context.Context, t TransferTask, op func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && (ctx.Err() != nil || !backend.IsTransient(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, x.cfg.Retry.BackOff(ctx), func(err error, d time.Duration) {
		x.cfg.Logger.Debug("retrying", "src", t.Source.URI, "attempt", attempt, "delay", d, "error", err)
	})
}
