// Package httpretry retries outbound HTTP downloads with capped exponential
// backoff and full jitter.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer. It retries network errors and 429/5xx
// gateway responses, and never retries other 4xx or a cancelled context.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(req *http.Request, d time.Duration) error
}

// Option configures a RetryClient.
type Option func(*RetryClient)

// WithBackoff sets the first retry delay and the cap.
func WithBackoff(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		rc.baseDelay = base
		rc.maxDelay = max
	}
}

// NewRetryClient wraps client, or a 2-minute-timeout http.Client when nil.
// maxRetries counts attempts after the first; <= 0 means 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(rc)
	}
	return rc
}

// Do sends req, retrying as described on RetryClient. The final attempt's
// response is returned as-is so the caller can inspect the status.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter time.Duration
	)

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			if retryAfter > delay {
				delay = min(retryAfter, rc.maxDelay)
			}
			// Host and path only: query strings can carry license keys.
			logger.Warn("retrying http request",
				"attempt", attempt, "max", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path,
				"wait", delay.String(), "error", lastErr)
			if err := rc.sleep(req, delay); err != nil {
				return nil, err
			}
		}

		if err := req.Context().Err(); err != nil {
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			retryAfter = 0
			continue
		}
		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is full jitter over base*2^(attempt-1), capped at maxDelay, floored
// at 10ms.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := rc.baseDelay << (attempt - 1)
	if exp <= 0 || exp > rc.maxDelay {
		exp = rc.maxDelay
	}
	d := time.Duration(rand.Int63n(int64(exp) + 1))
	return max(d, 10*time.Millisecond)
}

func sleepCtx(req *http.Request, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// parseRetryAfter accepts the delta-seconds form only.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
