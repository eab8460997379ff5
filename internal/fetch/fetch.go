// Package fetch downloads OpenAPI documents from public URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"
)

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("only http and https URLs are supported")

// TooLargeError is returned when a body exceeds the configured limit.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Config configures a Fetcher.
type Config struct {
	Timeout    time.Duration // Per-attempt HTTP timeout (default 15s)
	MaxBytes   int64         // Body limit (default 5 MiB)
	Retries    uint          // Retries after the first attempt (default 3)
	Delay      time.Duration // Initial backoff delay (default 500ms)
	UserAgent  string
	HTTPClient *http.Client // Optional (tests)
	Logger     *slog.Logger
}

// Result is a fetched document.
type Result struct {
	URL         string
	Content     []byte
	ContentType string
	Filename    string
	Attempts    uint
}

// Fetcher downloads documents with retries, a size limit, and deduplication
// of concurrent requests for the same URL.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	attempts  uint
	delay     time.Duration
	userAgent string
	logger    *slog.Logger
	group     singleflight.Group
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "swaggerfix"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		client:    client,
		maxBytes:  cfg.MaxBytes,
		attempts:  cfg.Retries + 1,
		delay:     cfg.Delay,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
}

// MaxBytes returns the body limit.
func (f *Fetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Fetch downloads rawURL. Concurrent calls for the same URL share one download;
// each caller still honors its own ctx.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrUnsupportedScheme
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}
	key := u.String()

	ch := f.group.DoChan(key, func() (any, error) {
		// Detached so one caller cancelling doesn't fail the others.
		return f.fetch(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.Debug("shared in-flight fetch", "url", key)
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Result, error) {
	result := &Result{URL: rawURL, Filename: path.Base(mustPath(rawURL))}

	err := retry.Do(
		func() error {
			result.Attempts++
			body, contentType, err := f.get(ctx, rawURL)
			if err != nil {
				return err
			}
			result.Content = body
			result.ContentType = contentType
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("fetch failed, retrying", "url", rawURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, "", statusErr
		}
		return nil, "", retry.Unrecoverable(statusErr)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, "", retry.Unrecoverable(&TooLargeError{Limit: f.maxBytes})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", retry.Unrecoverable(&TooLargeError{Limit: f.maxBytes})
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func mustPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
