package dispatch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/url"
	"time"

	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/logrecord"
)

// RetryConfig controls the exponential-backoff-with-jitter policy applied
// between provider-mapping attempts (§4.3 step 5, §9). The zero value
// disables retries: a single attempt per mapping.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig matches the spec's "default 1 attempt, configurable"
// policy: no retries unless a caller opts in.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     1,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// retryable reports whether an error is worth retrying on the same
// mapping: network errors (an error that is not a *GatewayError, or a
// gateway_error wrapping the *url.Error that http.Client.Do returned) and
// 5xx upstream errors. Anything else — 4xx, no_credential, no_model — is
// not retried on the same mapping.
func retryable(err error) bool {
	ge, ok := gatewayerr.As(err)
	if !ok {
		return true
	}
	if ge.Kind == logrecord.ErrorUpstream {
		return true
	}
	var urlErr *url.Error
	return ge.Kind == logrecord.ErrorGateway && errors.As(ge.Cause, &urlErr)
}

// withRetry calls fn up to cfg.MaxAttempts times, sleeping between
// retryable failures for half the current backoff interval plus a random
// jitter of up to the full interval, the interval growing exponentially
// by cfg.Multiplier up to cfg.MaxInterval. It stops early on a
// non-retryable error, a ctx cancellation, or success.
func withRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	interval := cfg.InitialInterval
	if interval == 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(interval) + 1))
		sleep := interval/2 + jitter

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		if cfg.Multiplier > 0 {
			interval = time.Duration(math.Min(float64(cfg.MaxInterval), float64(interval)*cfg.Multiplier))
		}
	}
	return zero, lastErr
}
