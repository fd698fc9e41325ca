// Package httpclient holds the retrying JSON transport shared by the
// OpenAI-compatible and Qdrant REST adapters.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// StatusError is returned for a non-2xx response that was not retried
// or ran out of attempts.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client sends JSON requests with bounded exponential backoff on
// network errors, 429 and 5xx responses.
type Client struct {
	HTTP       *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Headers    map[string]string
	Logger     *zap.Logger
}

// New returns a client with the given timeout, 5 retries and a
// 200ms base delay capped at 5s.
func New(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: 5,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Headers:    map[string]string{},
		Logger:     logger,
	}
}

// DoJSON marshals in (if non-nil), sends it and decodes a 2xx body into
// out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.delay(attempt-1, lastErr)); err != nil {
				return err
			}
		}

		body, err := c.send(ctx, method, url, payload)
		if err == nil {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		lastErr = err

		var se *StatusError
		if ok := asStatus(err, &se); ok && !se.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < c.MaxRetries {
			c.Logger.Warn("request failed, will retry",
				zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return fmt.Errorf("after %d retries: %w", c.MaxRetries, lastErr)
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &retryAfterError{
			StatusError: &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)},
			after:       parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

// delay follows the server's Retry-After when present, otherwise
// doubles BaseDelay per attempt up to MaxDelay.
func (c *Client) delay(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		return min(ra.after, c.MaxDelay)
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return c.MaxDelay
	}
	return min(c.BaseDelay<<attempt, c.MaxDelay)
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func asStatus(err error, target **StatusError) bool {
	switch e := err.(type) {
	case *retryAfterError:
		*target = e.StatusError
		return true
	case *StatusError:
		*target = e
		return true
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
