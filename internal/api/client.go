// Package api is the authenticated request layer. Calls carry a bearer
// credential, classify failures as terminal or transient, and retry
// transient failures with linear backoff. Errors are returned, never
// panicked; callers can use Perform for the {json}|{error} envelope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/metrics"
)

const (
	// DefaultMaxRetries bounds retries for transient failures.
	DefaultMaxRetries = 2
	// DefaultRetryBackoff is the linear backoff unit: attempt n waits n+1 units.
	DefaultRetryBackoff = 400 * time.Millisecond
)

// CredentialSource supplies the bearer credential for outgoing calls.
type CredentialSource interface {
	BearerToken() (string, bool)
}

// StaticCredential is a CredentialSource holding a fixed token.
type StaticCredential string

func (s StaticCredential) BearerToken() (string, bool) {
	return string(s), s != ""
}

// Options tune the client. Zero values take defaults.
type Options struct {
	HTTPClient   *http.Client
	MaxRetries   int
	RetryBackoff time.Duration
	// RequestsPerSecond enables client-side rate limiting when > 0.
	RequestsPerSecond float64
	RateBurst         int
}

// Client issues authenticated API calls with bounded retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
}

// NewClient creates a request-layer client for the given base URL.
func NewClient(baseURL string, creds CredentialSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
		limiter:    limiter,
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      time.Sleep,
	}
}

// BaseURL returns the API base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call issues an authenticated request and returns the response body.
// Transient failures are retried up to the configured bound with linear
// backoff; terminal failures return immediately.
func (c *Client) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, ok := c.creds.BearerToken()
	if !ok {
		return nil, ErrNoCredential
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &ClientError{Message: fmt.Sprintf("encode request body: %v", err)}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RequestRetries.Inc()
			c.sleep(c.backoffFor(attempt - 1))
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &TransientError{Message: err.Error()}
			}
		}

		raw, err := c.attempt(ctx, method, path, token, payload)
		if err == nil {
			return raw, nil
		}
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			metrics.RequestFailures.WithLabelValues("client").Inc()
			return nil, err
		}
		lastErr = err
		logger.Error("request %s %s attempt %d/%d failed: %v", method, path, attempt+1, c.maxRetries+1, err)
	}

	metrics.RequestFailures.WithLabelValues("transient").Inc()
	return nil, lastErr
}

// backoffFor returns the wait before retrying after the given attempt:
// 400ms after the first failure, 800ms after the second, and so on.
func (c *Client) backoffFor(attempt int) time.Duration {
	return c.backoff * time.Duration(attempt+1)
}

func (c *Client) attempt(ctx context.Context, method, path, token string, payload []byte) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &ClientError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.RawMessage(respBody), nil
	}

	msg := extractErrorMessage(respBody, resp.StatusCode)
	if isTerminalStatus(resp.StatusCode) || isTerminalMessage(msg) {
		return nil, &ClientError{Status: resp.StatusCode, Message: msg}
	}
	return nil, &TransientError{Status: resp.StatusCode, Message: msg}
}

// Result is the {json}|{error} call envelope. Exactly one field is set.
type Result struct {
	JSON json.RawMessage `json:"json,omitempty"`
	Err  string          `json:"error,omitempty"`
}

// Perform issues a call and folds any failure into the envelope so the
// caller only ever branches on Err.
func (c *Client) Perform(ctx context.Context, method, path string, body any) Result {
	raw, err := c.Call(ctx, method, path, body)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{JSON: raw}
}
