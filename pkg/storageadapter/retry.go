package storageadapter

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/triadb/triadb/pkg/model"
)

// RetryPolicy configures the exponential backoff applied around a
// StorageAdapter's calls when they fail with model.ErrStorageUnavailable.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Factor     float64
	Jitter     float64 // fraction, e.g. 0.2 for +/-20%
	MaxAttempts int
}

// DefaultRetryPolicy is base 100ms, factor 2, jitter +/-20%, 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   100 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// RetryAdapter wraps a StorageAdapter, retrying any call that fails with
// model.ErrStorageUnavailable under the configured backoff before
// surfacing the error to the caller.
type RetryAdapter struct {
	inner  StorageAdapter
	policy RetryPolicy
}

// WithRetry decorates inner with policy's backoff behavior.
func WithRetry(inner StorageAdapter, policy RetryPolicy) *RetryAdapter {
	return &RetryAdapter{inner: inner, policy: policy}
}

func (a *RetryAdapter) delay(attempt int) time.Duration {
	d := float64(a.policy.BaseDelay) * pow(a.policy.Factor, attempt)
	jitter := d * a.policy.Jitter
	d += (rand.Float64()*2 - 1) * jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (a *RetryAdapter) run(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < a.policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !errors.Is(lastErr, model.ErrStorageUnavailable) {
			return lastErr
		}
		if attempt == a.policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return model.NewError(model.KindCancelled, "retry", ctx.Err())
		case <-time.After(a.delay(attempt)):
		}
	}
	return lastErr
}

func (a *RetryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := a.run(ctx, func() error {
		var innerErr error
		out, innerErr = a.inner.Get(ctx, key)
		return innerErr
	})
	return out, err
}

func (a *RetryAdapter) Put(ctx context.Context, key string, value []byte) error {
	return a.run(ctx, func() error { return a.inner.Put(ctx, key, value) })
}

func (a *RetryAdapter) Delete(ctx context.Context, key string) error {
	return a.run(ctx, func() error { return a.inner.Delete(ctx, key) })
}

func (a *RetryAdapter) Exists(ctx context.Context, key string) (bool, error) {
	var out bool
	err := a.run(ctx, func() error {
		var innerErr error
		out, innerErr = a.inner.Exists(ctx, key)
		return innerErr
	})
	return out, err
}

func (a *RetryAdapter) ListPrefix(ctx context.Context, prefix, cursor string) ([]string, string, error) {
	var keys []string
	var next string
	err := a.run(ctx, func() error {
		var innerErr error
		keys, next, innerErr = a.inner.ListPrefix(ctx, prefix, cursor)
		return innerErr
	})
	return keys, next, err
}

func (a *RetryAdapter) BatchPut(ctx context.Context, items map[string][]byte) error {
	return a.run(ctx, func() error { return a.inner.BatchPut(ctx, items) })
}
