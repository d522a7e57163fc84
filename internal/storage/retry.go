package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"chanbot/internal/model"
)

// Default retry policy for URL log calls.
const (
	DefaultAttempts = 3
	DefaultDelay    = 200 * time.Millisecond
	DefaultMaxDelay = time.Second
)

// Retrying wraps a Storage and retries failed calls a bounded number of times.
// Context cancellation is never retried.
type Retrying struct {
	Storage
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	log      *slog.Logger
}

// NewRetrying wraps next with the default retry policy.
func NewRetrying(next Storage, log *slog.Logger) *Retrying {
	return &Retrying{
		Storage:  next,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		maxDelay: DefaultMaxDelay,
		log:      log,
	}
}

func (r *Retrying) withPolicy(attempts uint, delay, maxDelay time.Duration) *Retrying {
	cp := *r
	cp.attempts = attempts
	cp.delay = delay
	cp.maxDelay = maxDelay
	return &cp
}

// RecordIfNew retries the wrapped RecordIfNew.
func (r *Retrying) RecordIfNew(ctx context.Context, rec model.URLRecord, since time.Time) (*model.PriorSeen, error) {
	var prior *model.PriorSeen
	err := r.do(ctx, "record_if_new", func() error {
		var err error
		prior, err = r.Storage.RecordIfNew(ctx, rec, since)
		return err
	})
	return prior, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.MaxDelay(r.maxDelay),
		retry.MaxJitter(r.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn("url log call failed, retrying", "op", op, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s after retries: %w", op, err)
	}
	return nil
}
