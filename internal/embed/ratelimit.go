package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	amerrors "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/metrics"
)

// RateLimitConfig configures the sliding window rate limiter for an
// embedding provider.
type RateLimitConfig struct {
	MaxRequests int           // requests allowed per Window
	Window      time.Duration // sliding window duration
	MaxWait     time.Duration // longest a caller will wait for a slot
}

// DefaultRateLimitConfig returns the conservative default used when a
// provider doesn't publish its own rate limit.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 70,
		Window:      10 * time.Second,
		MaxWait:     30 * time.Second,
	}
}

// RateLimitToken is returned by Acquire and identifies the reserved slot.
// It is passed to Refund when a request fails in a way that never actually
// consumed the provider's rate limit (network errors, timeouts, 5xx).
type RateLimitToken struct {
	id          uint64
	reserved    time.Time
	reservation *rate.Reservation
}

// RateLimiter is a sliding window limiter over an embedding provider's
// request budget, with refundable slots for requests that don't count
// against the provider.
//
// It is backed by golang.org/x/time/rate: each acquired slot is a
// Reservation, and a refund is the Reservation's Cancel, which returns the
// token to the bucket for the next caller rather than letting it drain on
// a request that never happened.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	limiter *rate.Limiter
	nextID  uint64
	metrics *metrics.Registry
}

// NewRateLimiter creates a sliding window limiter allowing cfg.MaxRequests
// requests per cfg.Window, refilling continuously at MaxRequests/Window.
// Acquire/Refund activity is recorded on the process-wide metrics registry.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimitConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitConfig().Window
	}
	limit := rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds())
	return &RateLimiter{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.MaxRequests),
		metrics: metrics.Default(),
	}
}

// Acquire reserves a slot, blocking until one is available or ctx is
// cancelled or the wait would exceed MaxWait. On success it returns a
// token that must eventually be discarded (implicitly, by not refunding)
// or refunded via Refund.
func (rl *RateLimiter) Acquire(ctx context.Context) (*RateLimitToken, error) {
	rl.mu.Lock()
	reservation := rl.limiter.Reserve()
	if !reservation.OK() {
		rl.mu.Unlock()
		return nil, amerrors.RateLimitedError(
			"rate limiter burst size too small to ever admit a request", nil)
	}
	wait := reservation.Delay()
	id := rl.nextID
	rl.nextID++
	rl.mu.Unlock()

	if wait > rl.cfg.MaxWait {
		reservation.Cancel()
		return nil, amerrors.RateLimitedError(
			fmt.Sprintf("rate limit wait of %s exceeds max wait of %s", wait, rl.cfg.MaxWait), nil)
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			reservation.Cancel()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	rl.metrics.RateLimitWaitSeconds.Observe(wait.Seconds())
	rl.metrics.RateLimitAcquires.Inc()
	return &RateLimitToken{id: id, reserved: time.Now(), reservation: reservation}, nil
}

// Refund returns a slot to the limiter. Call this only for requests that
// failed without consuming the provider's actual rate limit capacity:
// network errors, timeouts, or 5xx responses. Never refund a 429 or a
// successful response.
func (rl *RateLimiter) Refund(token *RateLimitToken) {
	if token == nil || token.reservation == nil {
		return
	}
	token.reservation.Cancel()
	rl.metrics.RateLimitRefunds.Inc()
}
