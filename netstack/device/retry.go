package device

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// OpenWithRetry calls open until it succeeds, sleeping with exponential
// backoff between attempts. It gives up when ctx is done.
func OpenWithRetry(ctx context.Context, open func() (Driver, error), options ...Option) (Driver, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	retryBackoff := backoff.ExponentialBackOff{
		InitialInterval:     opts.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         opts.MaxInterval,
	}
	retryBackoff.Reset()

	for attempt := 1; ; attempt++ {
		driver, err := open()
		if err == nil {
			return driver, nil
		}

		delay := retryBackoff.NextBackOff()
		opts.Log.Warnw("failed to open device, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
