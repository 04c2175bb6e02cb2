// Package httpclient provides a retrying HTTP client, generalized from the
// Flow access client's withRetry/rate-limiter pattern
// (internal/flow/client.go) to plain net/http: exponential backoff over a
// bounded number of attempts, a shared golang.org/x/time/rate limiter, and
// context cancellation respected throughout.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 12
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Client wraps *http.Client with retry and optional throttling.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// New builds a Client. limiter may be nil to disable throttling.
func New(limiter *rate.Limiter) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter:    limiter,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// NewFromEnv builds a Client with a rate limiter configured by
// PLCMIRROR_UPSTREAM_RPS / PLCMIRROR_UPSTREAM_BURST, matching the teacher's
// newLimiterFromEnv convention.
func NewFromEnv() *Client {
	rps := getEnvFloat("PLCMIRROR_UPSTREAM_RPS", 5)
	var limiter *rate.Limiter
	if rps > 0 {
		burst := getEnvFloat("PLCMIRROR_UPSTREAM_BURST", rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), int(burst))
	}
	return New(limiter)
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// isRetryable reports whether a response status code is worth retrying.
func isRetryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Get performs an HTTP GET with exponential backoff on transient network
// errors and retryable status codes. The caller owns closing the returned
// body. Non-retryable non-2xx responses are returned as an error with the
// body drained and discarded.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	backoff := c.backoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == c.maxRetries-1 {
				return nil, fmt.Errorf("GET %s: max retries reached: %w", url, err)
			}
			log.Printf("[httpclient] GET %s failed (attempt %d/%d): %v", url, attempt+1, c.maxRetries, err)
			if !c.sleep(ctx, &backoff) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if !isRetryable(resp.StatusCode) || attempt == c.maxRetries-1 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: unexpected status %d: %s", url, resp.StatusCode, body)
		}

		resp.Body.Close()
		log.Printf("[httpclient] GET %s got status %d (attempt %d/%d), retrying", url, resp.StatusCode, attempt+1, c.maxRetries)
		if !c.sleep(ctx, &backoff) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("GET %s: exhausted retries", url)
}

// sleep waits for the current backoff duration (doubling it afterward, up
// to maxBackoff), returning false if ctx was cancelled first.
func (c *Client) sleep(ctx context.Context, backoff *time.Duration) bool {
	wait := *backoff
	*backoff *= 2
	if *backoff > c.maxBackoff {
		*backoff = c.maxBackoff
	}
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}
