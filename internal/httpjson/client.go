// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httpjson executes JSON-over-HTTP provider requests through the
// rate limiter, retrying transient failures with exponential backoff.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/ratelimit"
	"github.com/pdiddy/bibfix/pkg/types"
)

const (
	defaultMaxRetries = 4
	defaultBaseDelay  = 1200 * time.Millisecond
	defaultMaxDelay   = 20 * time.Second
)

// StatusError reports a non-2xx response after retries were exhausted or
// for a non-retryable status.
type StatusError struct {
	Provider string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.Status)
}

// Status extracts the HTTP status from err, or 0 when err is not a StatusError.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Client issues paced, retried JSON requests on behalf of one run. All
// outbound provider traffic goes through a single Client so the limiter
// sees every call.
type Client struct {
	hc      *http.Client
	limiter *ratelimit.Limiter
	ua      string
	log     zerolog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitterMax  time.Duration

	// sleep and jitter are injectable so tests run without real time.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New builds a client from the shared HTTP and rate-limit configuration.
func New(httpCfg types.HTTPConfig, rlCfg types.RateLimitConfig, limiter *ratelimit.Limiter, log zerolog.Logger) *Client {
	c := &Client{
		hc:         &http.Client{Timeout: httpCfg.Timeout},
		limiter:    limiter,
		ua:         httpCfg.UserAgent,
		log:        log,
		maxRetries: rlCfg.MaxRetries,
		baseDelay:  rlCfg.RetryBaseDelay,
		maxDelay:   rlCfg.RetryMaxDelay,
		jitterMax:  rlCfg.RetryJitter,
		sleep:      sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	return c
}

// SetSleep replaces the backoff sleeper, for tests.
func (c *Client) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
	c.jitter = func(time.Duration) time.Duration { return 0 }
}

// GetJSON performs a GET and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, provider, url string, headers map[string]string, out any) error {
	return c.do(ctx, provider, http.MethodGet, url, nil, headers, out)
}

// PostJSON performs a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, provider, url string, body, out any, headers map[string]string) error {
	return c.do(ctx, provider, http.MethodPost, url, body, headers, out)
}

// do waits on the limiter, fires the request, and retries 429/5xx responses
// with a doubling backoff up to the attempt ceiling. 429s additionally
// escalate the provider's cooldown through the limiter. Non-retryable
// statuses and malformed JSON propagate immediately.
func (c *Client) do(ctx context.Context, provider, method, url string, body any, headers map[string]string, out any) error {
	delay := c.baseDelay

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx, provider); err != nil {
			return err
		}

		req, err := c.newRequest(ctx, method, url, body, headers)
		if err != nil {
			return err
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			c.limiter.OnError(provider)
			return fmt.Errorf("%s request: %w", provider, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			decodeErr := decodeBody(resp.Body, out)
			if decodeErr != nil {
				c.limiter.OnError(provider)
				return fmt.Errorf("parsing %s response: %w", provider, decodeErr)
			}
			c.limiter.OnSuccess(provider)
			return nil
		}

		// Drain and close the body before any retry.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.On429(provider)
		} else {
			c.limiter.OnError(provider)
		}

		if !retryable(resp.StatusCode) || attempt >= c.maxRetries {
			return &StatusError{Provider: provider, Status: resp.StatusCode}
		}

		wait := delay + c.jitter(c.jitterMax)
		c.log.Debug().
			Str("provider", provider).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Int("max_attempts", c.maxRetries).
			Dur("wait", wait).
			Msg("retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body any, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func decodeBody(body io.ReadCloser, out any) error {
	defer body.Close()
	if out == nil {
		_, err := io.Copy(io.Discard, body)
		return err
	}
	return json.NewDecoder(body).Decode(out)
}

// retryable reports whether the status is worth another attempt: 429 and
// the transient 5xx family.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
