// Package retrylimit provides an adaptive rate limiter and a retry loop with
// exponential backoff for calls to flaky upstream services.
//
//	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)
//	err := retrylimit.WithRetryMax(ctx, func() error {
//	    return lookup()
//	}, lim, 3, log)
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter manages a rate limit that rises on success and drops on
// overload responses.
type AdaptiveLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter. initial, lo and hi are in
// requests per second; stepDown multiplies the limit after a failure.
func NewAdaptiveLimiter(initial, lo, hi, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	initial = max(initial, 1)
	lo = max(lo, 1)
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, int(initial)),
		minLimit: lo,
		maxLimit: hi,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the limit unless an overload was seen in the last 10s.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.adjust(a.limiter.Limit() + a.stepUp)
	}
}

func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.adjust(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) adjust(limit rate.Limit) {
	limit = min(max(limit, a.minLimit), a.maxLimit)
	if limit != a.limiter.Limit() {
		a.limiter.SetLimit(limit)
		a.limiter.SetBurst(max(1, int(limit)))
	}
}

// HTTPError is implemented by errors that carry an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryConfig configures WithRetryConfig.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Multiplier     float64
	Jitter         bool
	Logger         zerolog.Logger
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 100 * time.Millisecond,
		Multiplier:     2.0,
		Jitter:         true,
		Logger:         zerolog.Nop(),
	}
}

// WithRetryMax retries fn up to maxAttempts times with the default backoff.
func WithRetryMax(ctx context.Context, fn func() error, lim *AdaptiveLimiter, maxAttempts int, log zerolog.Logger) error {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.Logger = log
	return WithRetryConfig(ctx, fn, lim, cfg)
}

// WithRetryConfig runs fn until it succeeds, returns a Permanent error, the
// context ends or the attempts run out. The last error is returned wrapped.
func WithRetryConfig(ctx context.Context, fn func() error, lim *AdaptiveLimiter, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	log := cfg.Logger.With().Str("component", "retry").Logger()
	delay := cfg.InitialDelay

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				log.Debug().Int("attempt", attempt).Msg("succeeded after retry")
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		switch {
		case statusIs(err, func(c int) bool { return c == http.StatusTooManyRequests }):
			if lim != nil {
				lim.RateLimited()
			}
			wait = cfg.RateLimitDelay
			log.Warn().Err(err).Int("attempt", attempt).Msg("rate limited")
		case statusIs(err, func(c int) bool { return c >= 500 && c < 600 }):
			if lim != nil {
				lim.RateLimited()
			}
			log.Warn().Err(err).Int("attempt", attempt).Dur("sleep", wait).Msg("server error")
		default:
			log.Debug().Err(err).Int("attempt", attempt).Dur("sleep", wait).Msg("request failed")
		}
		if cfg.Jitter {
			wait = addJitter(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
}

func addJitter(delay time.Duration) time.Duration {
	if delay < 4 {
		return delay
	}
	return delay + rand.N(delay/4)
}

func statusIs(err error, match func(int) bool) bool {
	var httpErr HTTPError
	return errors.As(err, &httpErr) && match(httpErr.StatusCode())
}
