package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/journeykit/errors"
)

// Caller posts action-step webhooks. Calls are rate limited per caller and
// bounded by a timeout so a slow endpoint becomes a failure outcome, not a
// stalled worker.
type Caller struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// CallerOption configures a Caller
type CallerOption func(*Caller)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(client *http.Client) CallerOption {
	return func(c *Caller) { c.client = client }
}

// WithRateLimit caps outbound calls per second with the given burst
func WithRateLimit(perSecond float64, burst int) CallerOption {
	return func(c *Caller) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithTimeout bounds each call
func WithTimeout(d time.Duration) CallerOption {
	return func(c *Caller) { c.timeout = d }
}

// NewCaller builds a webhook caller. Defaults: 10 calls/s burst 20, 10s
// timeout.
func NewCaller(opts ...CallerOption) *Caller {
	c := &Caller{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call posts the payload as JSON and treats any non-2xx response as a
// failure. Network errors and timeouts are transient.
func (c *Caller) Call(ctx context.Context, url string, payload map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "Caller", "Call", "acquire rate limit slot")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapFatal(err, "Caller", "Call", "marshal payload")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "Caller", "Call", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.WrapTransient(
				fmt.Errorf("%w: %s", errors.ErrWebhookUnreachable, "timeout"),
				"Caller", "Call", "post webhook")
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrWebhookUnreachable, err),
			"Caller", "Call", "post webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(
			fmt.Errorf("webhook returned %d", resp.StatusCode),
			"Caller", "Call", "post webhook")
	default:
		return errors.WrapFatal(
			fmt.Errorf("webhook returned %d", resp.StatusCode),
			"Caller", "Call", "post webhook")
	}
}
