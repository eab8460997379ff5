package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model: "test-model",
			Messages: []Message{
				{Role: "user", Content: "test"},
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Errorf("Success = false, want true")
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if result.ModelUsed != "test-model" {
			t.Errorf("ModelUsed = %q, want test-model", result.ModelUsed)
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("scripted responses", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 0
		c.Responses = []string{"first", "second"}

		var got []string
		for i := 0; i < 3; i++ {
			result, err := c.Chat(context.Background(), &ChatRequest{})
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			got = append(got, result.Content)
		}
		if strings.Join(got, ",") != "first,second,second" {
			t.Errorf("responses = %v, want [first second second]", got)
		}
	})

	t.Run("captures requests", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 0

		c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "a"}}})
		c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "b"}}})

		if len(c.Requests()) != 2 {
			t.Fatalf("Requests() = %d, want 2", len(c.Requests()))
		}
		if got := c.LastRequest().Messages[0].Content; got != "b" {
			t.Errorf("LastRequest content = %q, want b", got)
		}

		c.Reset()
		if c.RequestCount() != 0 || c.LastRequest() != nil {
			t.Error("Reset() should clear state")
		}
	})

	t.Run("stream", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "one two three"

		var deltas []string
		result, err := c.ChatStream(context.Background(), &ChatRequest{}, func(d string) {
			deltas = append(deltas, d)
		})
		if err != nil {
			t.Fatalf("ChatStream() error = %v", err)
		}
		if len(deltas) != 3 {
			t.Errorf("got %d deltas, want 3", len(deltas))
		}
		if strings.Join(deltas, "") != result.Content {
			t.Errorf("deltas %q do not add up to %q", strings.Join(deltas, ""), result.Content)
		}
	})

	t.Run("structured output", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseJSON = json.RawMessage(`{"key": "value"}`)

		result, err := c.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "test"}},
			ResponseFormat: &ResponseFormat{
				Type: ResponseFormatJSONObject,
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.ParsedJSON == nil {
			t.Error("expected ParsedJSON")
		}
	})

	t.Run("failure", func(t *testing.T) {
		c := NewMockClient()
		c.ShouldFail = true

		result, err := c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("custom error", func(t *testing.T) {
		c := NewMockClient()
		c.Err = &RateLimitError{Message: "slow down", RetryAfter: time.Second}

		result, err := c.Chat(context.Background(), &ChatRequest{})
		if !IsRateLimit(err) {
			t.Fatalf("expected rate limit error, got %v", err)
		}
		if result.RetryAfter != time.Second {
			t.Errorf("RetryAfter = %v, want 1s", result.RetryAfter)
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 2

		// First two should succeed
		_, err := c.Chat(context.Background(), &ChatRequest{})
		if err != nil {
			t.Fatalf("first request should succeed: %v", err)
		}
		_, err = c.Chat(context.Background(), &ChatRequest{})
		if err != nil {
			t.Fatalf("second request should succeed: %v", err)
		}

		// Third should fail
		_, err = c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("third request should fail")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 5 * time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.Chat(ctx, &ChatRequest{})
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial requests", func(t *testing.T) {
		limiter := NewRateLimiter(600)

		// Should allow 5 requests quickly
		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		elapsed := time.Since(start)

		// Should complete quickly since we have burst capacity
		if elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("try consume", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		if !limiter.TryConsume() {
			t.Error("first TryConsume should succeed")
		}
	})

	t.Run("default rate", func(t *testing.T) {
		limiter := NewRateLimiter(0)

		if got := limiter.Status().TokensLimit; got != DefaultRequestsPerMinute {
			t.Errorf("TokensLimit = %d, want %d", got, DefaultRequestsPerMinute)
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		status := limiter.Status()

		if status.TokensLimit != 60 {
			t.Errorf("TokensLimit = %d, want 60", status.TokensLimit)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("record 429", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		limiter.Record429(time.Second)

		status := limiter.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
		if status.TokensAvailable != 0 {
			t.Errorf("TokensAvailable = %d, want 0 after drain", status.TokensAvailable)
		}
	})

	t.Run("retry-after pauses callers", func(t *testing.T) {
		limiter := NewRateLimiter(6000)

		limiter.Record429(100 * time.Millisecond)
		if limiter.TryConsume() {
			t.Error("TryConsume should fail while paused")
		}
		if paused := limiter.Status().PausedFor; paused <= 0 {
			t.Errorf("PausedFor = %v, want > 0", paused)
		}

		start := time.Now()
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
			t.Errorf("Wait returned after %v, expected to honor the pause", elapsed)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1)

		// Consume the one allowed token
		limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := limiter.Wait(ctx)
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(6000)

		var wg sync.WaitGroup
		var errors atomic.Int32

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					errors.Add(1)
				}
			}()
		}

		wg.Wait()

		if errors.Load() > 0 {
			t.Errorf("had %d errors", errors.Load())
		}

		status := limiter.Status()
		if status.TotalConsumed != 10 {
			t.Errorf("TotalConsumed = %d, want 10", status.TotalConsumed)
		}
	})
}

// plainClient is an LLMClient without streaming support.
type plainClient struct {
	content string
	err     error
}

func (p *plainClient) Name() string { return "plain" }

func (p *plainClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if p.err != nil {
		return &ChatResult{Provider: "plain"}, p.err
	}
	return &ChatResult{Provider: "plain", Content: p.content, Success: true}, nil
}

func TestWithRateLimit(t *testing.T) {
	t.Run("zero rate returns client unchanged", func(t *testing.T) {
		mock := NewMockClient()
		if got := WithRateLimit(mock, 0); got != LLMClient(mock) {
			t.Error("expected unwrapped client")
		}
	})

	t.Run("wraps and forwards", func(t *testing.T) {
		mock := NewMockClient()
		mock.ResponseText = "ok"
		client := WithRateLimit(mock, 120)

		limited, ok := client.(*LimitedClient)
		if !ok {
			t.Fatalf("expected *LimitedClient, got %T", client)
		}
		if limited.Name() != MockClientName {
			t.Errorf("Name() = %s, want %s", limited.Name(), MockClientName)
		}
		if limited.Unwrap() != LLMClient(mock) {
			t.Error("Unwrap() returned a different client")
		}

		result, err := limited.Chat(context.Background(), &ChatRequest{})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "ok" {
			t.Errorf("Content = %q, want ok", result.Content)
		}
		if got := limited.Status().TotalConsumed; got != 1 {
			t.Errorf("TotalConsumed = %d, want 1", got)
		}
	})

	t.Run("stream falls back to single delta", func(t *testing.T) {
		limited := WithRateLimit(&plainClient{content: "whole answer"}, 60).(*LimitedClient)

		var deltas []string
		_, err := limited.ChatStream(context.Background(), &ChatRequest{}, func(d string) {
			deltas = append(deltas, d)
		})
		if err != nil {
			t.Fatalf("ChatStream() error = %v", err)
		}
		if len(deltas) != 1 || deltas[0] != "whole answer" {
			t.Errorf("deltas = %v, want [whole answer]", deltas)
		}
	})

	t.Run("429 drains the bucket", func(t *testing.T) {
		inner := &plainClient{err: &RateLimitError{Message: "limited", RetryAfter: time.Second}}
		limited := WithRateLimit(inner, 60).(*LimitedClient)

		_, err := limited.Chat(context.Background(), &ChatRequest{})
		var rle *RateLimitError
		if !errors.As(err, &rle) {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		status := limited.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
		if status.TokensAvailable != 0 {
			t.Errorf("TokensAvailable = %d, want 0", status.TokensAvailable)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"garbage", 0},
		{"-1", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatusError(t *testing.T) {
	err := statusError("groq", 429, "too many", nil)
	if !IsRateLimit(err) {
		t.Errorf("expected rate limit error, got %T", err)
	}

	err = statusError("groq", 500, "boom", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Error() != "groq error (status 500): boom" {
		t.Errorf("unexpected message: %s", apiErr.Error())
	}
}

// TestTestConfig verifies the test helper works correctly.
func TestTestConfig(t *testing.T) {
	t.Run("loads from environment", func(t *testing.T) {
		cfg := LoadTestConfig()
		// Just verify it doesn't panic - actual values depend on environment
		_ = cfg.HasGroq()
		_ = cfg.HasAnyLLM()
	})

	t.Run("ToRegistryConfig", func(t *testing.T) {
		cfg := TestConfig{GroqAPIKey: "gsk-test"}
		regCfg := cfg.ToRegistryConfig()

		if len(regCfg.LLMProviders) != 1 {
			t.Fatalf("LLMProviders = %d, want 1", len(regCfg.LLMProviders))
		}
		if regCfg.LLMProviders[GroqName].Model != groqDefaultModel {
			t.Errorf("model = %s, want %s", regCfg.LLMProviders[GroqName].Model, groqDefaultModel)
		}
	})
}
