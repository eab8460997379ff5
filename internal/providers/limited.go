package providers

import (
	"context"
	"math"
	"time"
)

// LimitedClient applies a RateLimiter before every call to the wrapped client.
type LimitedClient struct {
	inner   LLMClient
	limiter *RateLimiter
}

// WithRateLimit wraps client with a token bucket of requestsPerMinute.
// A non-positive rate returns client unchanged.
func WithRateLimit(client LLMClient, requestsPerMinute float64) LLMClient {
	if requestsPerMinute <= 0 {
		return client
	}
	return &LimitedClient{
		inner:   client,
		limiter: NewRateLimiter(int(math.Ceil(requestsPerMinute))),
	}
}

// Name returns the wrapped client's name.
func (c *LimitedClient) Name() string {
	return c.inner.Name()
}

// Unwrap returns the wrapped client.
func (c *LimitedClient) Unwrap() LLMClient {
	return c.inner
}

// Status reports the limiter state.
func (c *LimitedClient) Status() RateLimiterStatus {
	return c.limiter.Status()
}

// Chat waits for a token and forwards the request.
func (c *LimitedClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	queued := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return &ChatResult{Provider: c.inner.Name(), ErrorType: "rate_limit_wait", ErrorMessage: err.Error()}, err
	}
	wait := time.Since(queued)

	result, err := c.inner.Chat(ctx, req)
	c.observe(result, err, wait)
	return result, err
}

// ChatStream waits for a token and streams from the wrapped client. Clients
// without streaming support deliver their whole content as one delta.
func (c *LimitedClient) ChatStream(ctx context.Context, req *ChatRequest, onDelta func(delta string)) (*ChatResult, error) {
	queued := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return &ChatResult{Provider: c.inner.Name(), ErrorType: "rate_limit_wait", ErrorMessage: err.Error()}, err
	}
	wait := time.Since(queued)

	var (
		result *ChatResult
		err    error
	)
	if sc, ok := c.inner.(StreamingClient); ok {
		result, err = sc.ChatStream(ctx, req, onDelta)
	} else {
		result, err = c.inner.Chat(ctx, req)
		if err == nil && result != nil && onDelta != nil && result.Content != "" {
			onDelta(result.Content)
		}
	}
	c.observe(result, err, wait)
	return result, err
}

func (c *LimitedClient) observe(result *ChatResult, err error, wait time.Duration) {
	if result != nil {
		result.QueueTime = wait
		result.TotalTime += wait
	}
	var rle *RateLimitError
	if asRateLimit(err, &rle) {
		c.limiter.Record429(rle.RetryAfter)
	}
}

var _ StreamingClient = (*LimitedClient)(nil)
