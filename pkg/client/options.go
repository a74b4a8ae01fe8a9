package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options are the generation settings shared by all backends
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single request; zero means the backend default
	Timeout time.Duration
	Retry   RetryPolicy
}

// RetryPolicy bounds the exponential backoff applied to transport failures
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy returns conservative backoff bounds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  time.Minute,
		MaxRetries:      4,
	}
}

// BackOff builds a fresh backoff for one request
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime

	var bo backoff.BackOff = b
	if p.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, p.MaxRetries)
	}
	return backoff.WithContext(bo, ctx)
}

// Retry runs op under the policy, logging every transient failure.
// Errors wrapped with backoff.Permanent stop immediately.
func Retry(ctx context.Context, p RetryPolicy, logger *zap.Logger, op func() error) error {
	notify := func(err error, wait time.Duration) {
		logger.Warn("Vision request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, p.BackOff(ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		return err
	}
	return nil
}

// ClassifyStatus marks HTTP errors as transient (429 and 5xx) or permanent
func ClassifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return err
	default:
		return backoff.Permanent(err)
	}
}

type rateLimited struct {
	next    VisionClient
	limiter *rate.Limiter
}

// RateLimited wraps next so that at most perMinute queries start per minute.
// A non-positive rate returns next unchanged.
func RateLimited(next VisionClient, perMinute int) VisionClient {
	if perMinute <= 0 {
		return next
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Query(ctx context.Context, q Query) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Query(ctx, q)
}
