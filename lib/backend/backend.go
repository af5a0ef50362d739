// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend is the HTTPS JSON client for the device API:
// challenge/signature authentication, heartbeats, intervention
// reports, and pairing.
//
// Transient failures (connection errors, 429, 5xx) are retried with
// bounded exponential backoff; other 4xx responses are permanent and
// returned immediately. All outbound requests share a rate limiter so
// an auth storm after a backend outage cannot hammer the recovering
// server. Response bodies are read with a hard size bound.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/netutil"
)

// Config holds the parameters for creating a Client. BaseURL is
// required; everything else has defaults.
type Config struct {
	// BaseURL is the backend base URL, e.g. "https://api.lyra.example".
	BaseURL string

	// RequestTimeout bounds each HTTP request. Default 15s. Ignored
	// when HTTPClient is set.
	RequestTimeout time.Duration

	// RetryAttempts is the total number of tries per request for
	// transient failures. Default 3.
	RetryAttempts int

	// RetryBackoff is the first retry delay; it doubles per attempt.
	// Default 2s.
	RetryBackoff time.Duration

	// RateLimit and RateBurst configure the shared outbound request
	// limiter. Defaults 2 requests/second, burst 5.
	RateLimit float64
	RateBurst int

	// HTTPClient overrides the transport. If nil, a client with
	// RequestTimeout is built.
	HTTPClient *http.Client

	// Clock drives retry backoff waits and token expiry resolution.
	// Default system clock.
	Clock clock.Clock

	// Logger receives retry warnings. Default no-op.
	Logger *slog.Logger
}

// Client is the device API client. Safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	retryAttempts int
	retryBackoff  time.Duration
	clk           clock.Clock
	logger        *slog.Logger
}

// NewClient creates a device API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 2 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 2
	}
	rateBurst := cfg.RateBurst
	if rateBurst <= 0 {
		rateBurst = 5
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    httpClient,
		limiter:       rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		clk:           clk,
		logger:        logger,
	}, nil
}

// doRequest performs one HTTP request and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *APIError. token may
// be empty for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path, token string, requestBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("backend: rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("backend: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil || apiErr.Code == "" {
		apiErr = APIError{
			Code:    "unexpected_response",
			Message: strings.TrimSpace(string(responseBody)),
		}
	}
	apiErr.StatusCode = response.StatusCode
	return nil, &apiErr
}

// doRetry runs doRequest with bounded retry on transient errors. The
// context bounds total retry time; if the agent is shutting down, the
// context cancels and retries stop.
func (c *Client) doRetry(ctx context.Context, method, path, token string, requestBody any) ([]byte, error) {
	var lastError error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clk.After(backoff):
			}
		}

		body, err := c.doRequest(ctx, method, path, token, requestBody)
		if err == nil {
			return body, nil
		}
		lastError = err

		if !isTransient(err) {
			return nil, err
		}

		c.logger.Warn("transient backend failure, retrying",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastError
}

// isTransient returns true for errors worth retrying: connection
// failures, rate limiting (429), and server errors (5xx). Client
// errors (4xx except 429) indicate a permanent problem.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if apiErr.StatusCode >= 500 {
			return true
		}
		if apiErr.StatusCode >= 400 {
			return false
		}
	}

	// Connection refused, timeout, EOF.
	return true
}
