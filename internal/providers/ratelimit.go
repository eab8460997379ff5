package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute matches the Groq free tier for llama-3.1-8b-instant.
const DefaultRequestsPerMinute = 30

// RateLimiter spaces LLM requests to a provider's requests-per-minute quota.
//
// It is a token bucket holding up to one minute of requests. A 429 with a
// Retry-After pauses every caller until that deadline has passed, so a burst
// of correction attempts does not keep hitting an exhausted quota.
type RateLimiter struct {
	mu sync.Mutex

	rpm    int
	tokens float64
	last   time.Time

	// pausedUntil is set from Retry-After; Wait holds callers until then.
	pausedUntil time.Time

	consumed int64
	waited   time.Duration
	last429  time.Time
}

// RateLimiterStatus reports the limiter state for a provider.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	PausedFor       time.Duration `json:"paused_for,omitempty"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter for requestsPerMinute, starting full.
// A non-positive rate uses DefaultRequestsPerMinute.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		rpm:    requestsPerMinute,
		tokens: float64(requestsPerMinute),
		last:   time.Now(),
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		delay := r.reserve(time.Now())
		r.mu.Unlock()
		if delay == 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += delay
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token if one is available right now.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserve(time.Now()) == 0
}

// Record429 notes a rate-limit response. With a Retry-After the bucket is
// emptied and callers pause until the deadline.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.last429 = now
	if retryAfter > 0 {
		r.tokens = 0
		r.last = now
		if until := now.Add(retryAfter); until.After(r.pausedUntil) {
			r.pausedUntil = until
		}
	}
}

// Status returns the current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refill(now)

	st := RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.rpm,
		Utilization:     max(0, 1-r.tokens/float64(r.rpm)),
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		Last429Time:     r.last429,
	}
	if r.tokens < 1 {
		st.TimeUntilToken = r.untilToken()
	}
	if now.Before(r.pausedUntil) {
		st.PausedFor = r.pausedUntil.Sub(now)
	}
	return st
}

// reserve consumes a token and returns 0, or returns how long to wait before
// trying again. Must be called with the lock held.
func (r *RateLimiter) reserve(now time.Time) time.Duration {
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now)
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.consumed++
		return 0
	}
	return r.untilToken()
}

// refill adds the tokens earned since the last update. Must be called with
// the lock held.
func (r *RateLimiter) refill(now time.Time) {
	if now.Before(r.pausedUntil) {
		r.last = now
		return
	}
	if start := r.pausedUntil; r.last.Before(start) {
		r.last = start
	}
	r.tokens = min(float64(r.rpm), r.tokens+now.Sub(r.last).Minutes()*float64(r.rpm))
	r.last = now
}

func (r *RateLimiter) untilToken() time.Duration {
	d := time.Duration((1 - r.tokens) / float64(r.rpm) * float64(time.Minute))
	return max(d, time.Millisecond)
}
