// Package rest is the shared HTTP core for all provider clients: rate
// limiting, retries and token handling in one place so the per-provider
// clients only describe endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
)

// ErrNotModified is returned for conditional requests answered with 304. The
// caller skips the page instead of treating it as a failure.
var ErrNotModified = errors.New("remote data not modified")

// TokenSource supplies the bearer token for a request and can refresh it when
// the provider rejects the current one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)

	// Refresh obtains a new token after a 401. Single-flight across
	// goroutines and processes is the implementation's responsibility.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for providers whose tokens never rotate
// mid-run, and for tests.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error)   { return string(t), nil }
func (t StaticToken) Refresh(ctx context.Context) (string, error) { return string(t), nil }

// Request describes one provider API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   interface{}
}

// Response carries the status and headers of a successful call, for callers
// that read pagination or caching headers.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Client executes provider requests with rate limiting, bounded retries on
// 5xx and network errors, unbounded waits on 429, and a single token refresh
// on 401.
type Client struct {
	httpClient        *http.Client
	rateLimiter       *rate.Limiter
	baseURL           string
	maxAttempts       int
	backoffBase       time.Duration
	retryAfterDefault time.Duration
	clock             shared.Clock
	logger            zerolog.Logger
}

// NewClient creates a client from provider configuration. A nil clock means
// real time.
func NewClient(cfg config.ProviderConfig, clock shared.Clock, logger zerolog.Logger) *Client {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.Retry.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	retryAfterDefault := cfg.Retry.RetryAfterDefault
	if retryAfterDefault <= 0 {
		retryAfterDefault = 30 * time.Second
	}
	// An unconfigured rate limit means unlimited, not zero.
	limit := rate.Limit(cfg.RateLimit.Requests)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter:       rate.NewLimiter(limit, burst),
		baseURL:           cfg.BaseURL,
		maxAttempts:       maxAttempts,
		backoffBase:       backoffBase,
		retryAfterDefault: retryAfterDefault,
		clock:             clock,
		logger:            logger,
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// addJitter spreads a backoff delay between 50% and 150% of its base value.
func addJitter(d time.Duration) time.Duration {
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// Do executes one request and unmarshals the response body into result when
// result is non-nil.
//
// Retry behavior:
//   - 429: wait for Retry-After (or the configured default) and retry. Does
//     not consume a retry attempt; the provider said when to come back.
//   - 5xx and network errors: exponential backoff with jitter, bounded by the
//     configured attempt budget.
//   - 401: refresh the token once and retry; a second 401 fails with
//     shared.ErrAuthExpired.
//   - 304: ErrNotModified.
//   - other 4xx: permanent failure, no retry.
func (c *Client) Do(ctx context.Context, req Request, tokens TokenSource, result interface{}) (*Response, error) {
	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt < c.maxAttempts; {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		var reqBody io.Reader
		if req.Body != nil {
			jsonData, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewBuffer(jsonData)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		for key, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("network error: %w", err)
			attempt++
			if attempt >= c.maxAttempts {
				break
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			c.clock.Sleep(addJitter(c.backoffBase * time.Duration(1<<(attempt-1))))
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := c.retryAfterDefault
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			c.logger.Debug().
				Str("path", req.Path).
				Dur("retry_after", delay).
				Msg("rate limited by provider, waiting")
			c.clock.Sleep(delay)
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, fmt.Errorf("token rejected after refresh: %w", shared.ErrAuthExpired)
			}
			refreshed = true
			token, err = tokens.Refresh(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh token: %w", err)
			}
			continue

		case resp.StatusCode == http.StatusNotModified:
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, ErrNotModified

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			attempt++
			if attempt >= c.maxAttempts {
				return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			c.clock.Sleep(addJitter(c.backoffBase * time.Duration(1<<(attempt-1))))
			continue

		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(respBody))
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, fmt.Errorf("max retries exceeded")
}
