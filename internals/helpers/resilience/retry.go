package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	helper "kapalku_backend/internals/helpers"
)

// RetryPolicy describes one call-site's retry budget. Only errors accepted by
// Retryable are retried; everything else propagates on the first failure.
type RetryPolicy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay added at random, 0..Jitter
	Retryable   func(error) bool

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

func GatewayRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Name:        "gateway",
		MaxAttempts: attempts,
		BaseDelay:   300 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      0.3,
		Retryable:   IsRetryableGatewayError,
	}
}

// WithClock swaps sleeping and jitter sources; tests use it to avoid real waits.
func (p RetryPolicy) WithClock(sleep func(ctx context.Context, d time.Duration) error, random func() float64) RetryPolicy {
	p.sleep = sleep
	p.random = random
	return p
}

// Delay returns the wait before the given retry (attempt counts from 1):
// base * multiplier^(attempt-1), plus jitter, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.Jitter > 0 {
		rnd := rand.Float64
		if p.random != nil {
			rnd = p.random
		}
		d += d * p.Jitter * rnd()
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times. The last error is returned unchanged
// so callers can still match it with errors.Is / errors.As.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := sleepCtx
	if p.sleep != nil {
		sleep = p.sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			return err
		}

		wait := p.Delay(attempt)
		helper.Logger.WithError(err).Warnf("%s: attempt %d/%d failed, retrying in %v", p.Name, attempt, attempts, wait)
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ErrRateLimited marks an explicit rate-limit signal from a dependency.
var ErrRateLimited = errors.New("rate_limited")

// IsRetryableGatewayError accepts timeouts, connection resets, 429/502/503/504
// and explicit rate limiting. An open circuit is never retried.
func IsRetryableGatewayError(err error) bool {
	if err == nil {
		return false
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout")
}
