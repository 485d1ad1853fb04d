package providers

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// RetryPolicy bounds how transient failures are retried
type RetryPolicy struct {
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PolicyFrom extracts the retry policy from a provider config
func PolicyFrom(cfg ProviderConfig) RetryPolicy {
	return RetryPolicy{
		Retries:        cfg.Retries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Retry runs op until it succeeds, fails permanently or the policy is
// exhausted. Only errors whose *ServiceError is transient are retried.
// It returns the number of attempts made.
func Retry(ctx context.Context, provider string, policy RetryPolicy, op func(ctx context.Context) error) (int, error) {
	log := logger.FromContext(ctx, nil)
	attempts := 0

	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var svcErr *ServiceError
		if errors.As(err, &svcErr) && svcErr.Transient && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("provider", provider).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("Transient service failure, retrying")
	}

	err := backoff.RetryNotify(operation, policy.backOff(ctx), notify)
	if err != nil && ctx.Err() != nil {
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			return attempts, &ServiceError{Provider: provider, Transient: true, Err: ctx.Err()}
		}
	}
	return attempts, err
}
