package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonwraymond/authchain/auth"
)

// RetryConfig configures retries of store outages.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 2
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry. Later retries
	// double it.
	// Default: 50ms
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries.
	// Default: 1s
	MaxDelay time.Duration `yaml:"max_delay"`
}

type retrier struct {
	config RetryConfig
}

func newRetrier(config RetryConfig) *retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = time.Second
	}
	return &retrier{config: config}
}

// execute runs op, retrying only outages. Credential errors and lookup
// misses are returned at once.
func (r *retrier) execute(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err = op(ctx); !isOutage(err) || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.delay(attempt)):
		}
	}
	return err
}

func (r *retrier) delay(attempt int) time.Duration {
	d := r.config.InitialDelay << (attempt - 1)
	if d <= 0 || d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	// Up to 25% jitter.
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return d + time.Duration(rand.Int64N(int64(d/4)+1))
}

// isOutage reports whether err counts against the store. Context errors
// belong to the caller.
func isOutage(err error) bool {
	return errors.Is(err, auth.ErrStoreUnavailable) && !isContextError(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
