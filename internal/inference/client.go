// Package inference provides the JSON-over-HTTP transport shared by every
// remote model call (embeddings, reranking, chat completions).
//
// Responses are classified so that callers can react by kind:
//   - 429, 503 and 507, or any error body mentioning "out of memory",
//     become errors.ErrResourceExhausted and are handled by admission control
//   - other non-2xx statuses become *errors.TransportError
//   - bodies that do not decode become errors.ErrMalformedResponse
package inference

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/ragbatch/internal/errors"
)

// DefaultTimeout bounds a single call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// maxErrorBody is how much of an error response is kept for the message.
const maxErrorBody = 4 << 10

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit limits calls to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithNoProxy makes the client connect directly, ignoring proxy settings
// from the environment.
func WithNoProxy(noProxy bool) Option {
	return func(c *Client) { c.noProxy = noProxy }
}

// WithInsecureSkipVerify disables TLS certificate verification, for
// internal endpoints with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) { c.insecure = skip }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithHTTPClient replaces the underlying http.Client. Proxy and TLS options
// are ignored when it is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client posts JSON to model endpoints. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	noProxy  bool
	insecure bool
	headers  http.Header
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.noProxy {
			transport.Proxy = nil
		}
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for internal endpoints
		}
		c.http = &http.Client{Transport: transport}
	}
	return c
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// PostJSON sends body as JSON to url and decodes a 2xx response into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	resp, cancel, err := c.post(ctx, url, body, nil)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w: %w", url, errors.ErrMalformedResponse, err)
	}
	return nil
}

// PostStream sends body as JSON to url and returns the open response body
// of a 2xx response. The caller must close it; closing it also releases the
// call's timeout.
func (c *Client) PostStream(ctx context.Context, url string, body any) (io.ReadCloser, error) {
	resp, cancel, err := c.post(ctx, url, body, http.Header{"Accept": {"text/event-stream"}})
	if err != nil {
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) post(ctx context.Context, url string, body any, extra http.Header) (*http.Response, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, errors.Join(errors.ErrCanceled, err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request for %s: %w", url, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return nil, nil, errors.Join(errors.ErrCanceled, err)
		}
		return nil, nil, errors.NewTransportError("request failed", err).WithEndpoint(url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, nil, classify(url, resp)
	}
	return resp, cancel, nil
}

// classify turns a non-2xx response into an error.
func classify(url string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if IsExhaustionStatus(resp.StatusCode) || mentionsOOM(msg) {
		return fmt.Errorf("%s returned %d: %s: %w", url, resp.StatusCode, msg, errors.ErrResourceExhausted)
	}

	return errors.NewTransportError(msg, nil).
		WithEndpoint(url).
		WithStatus(resp.StatusCode)
}

// IsExhaustionStatus reports whether code signals an overloaded or
// out-of-memory model server.
func IsExhaustionStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInsufficientStorage:
		return true
	}
	return false
}

func mentionsOOM(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "outofmemory")
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
