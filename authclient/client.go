// Package authclient is an HTTP client for the dashboard API that attaches
// bearer credentials, refreshes the access token once for any number of
// requests rejected together, and retries transient failures with a short
// linear backoff. Every failure reaches the caller as an *APIError.
package authclient

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

	"github.com/google/uuid"
)

// DefaultTimeout bounds every individual attempt, including the refresh call.
const DefaultTimeout = 30 * time.Second

const headerRequestID = "X-Request-ID"

// Request is one logical API call. Body is kept as bytes so the request can
// be replayed on retry.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx) API response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Client is the authenticated API client. It is safe for concurrent use.
type Client struct {
	baseURL     string
	store       TokenStore
	doer        Doer
	loginDoer   Doer
	refresher   Refresher
	refreshPath string
	policy      RetryPolicy
	timeout     time.Duration
	header      http.Header
	events      *Events
	signal      UnauthorizedSignal
	logger      *slog.Logger
	coordinator *RefreshCoordinator

	// sleep waits between transient retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithDoer sets the transport used for API and refresh calls.
func WithDoer(doer Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithLoginDoer sets the transport used by Login. Defaults to the API transport.
func WithLoginDoer(doer Doer) Option {
	return func(c *Client) {
		c.loginDoer = doer
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryPolicy replaces the transient retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithEvents publishes client notifications, including the unauthorized
// signal, on events.
func WithEvents(events *Events) Option {
	return func(c *Client) {
		c.events = events
	}
}

// WithUnauthorizedSignal overrides the signal raised when the session ends.
// By default the Events hub raises it.
func WithUnauthorizedSignal(signal UnauthorizedSignal) Option {
	return func(c *Client) {
		c.signal = signal
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRefresher replaces the refresh endpoint call.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithRefreshPath changes the refresh endpoint path (default /auth/refresh).
func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithHeader adds a default header sent with every API request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, store TokenStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if err := validateBaseURL(baseURL); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		store:       store,
		refreshPath: DefaultRefreshPath,
		policy:      DefaultRetryPolicy(),
		timeout:     DefaultTimeout,
		header:      http.Header{},
		logger:      slog.New(slog.DiscardHandler),
		sleep:       sleepContext,
	}
	c.header.Set("Content-Type", "application/json")
	c.header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		transport, err := NewTransport(c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		c.doer = transport
	}
	if c.loginDoer == nil {
		c.loginDoer = c.doer
	}
	if c.refresher == nil {
		c.refresher = &endpointRefresher{
			url:     c.resolve(c.refreshPath, nil),
			doer:    c.doer,
			timeout: c.timeout,
		}
	}
	if c.signal == nil {
		c.signal = c.events
	}

	c.coordinator = newRefreshCoordinator(
		c.store,
		c.refresher,
		c.signal,
		c.events,
		c.logger,
		c.timeout,
	)
	return c, nil
}

func validateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("base URL must include a host")
	}

	return nil
}

// resolve joins path onto the base URL. Absolute URLs are used as is.
func (c *Client) resolve(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + query.Encode()
}

// Send issues req with the stored bearer token and returns the 2xx response.
//
// A 401 triggers one shared refresh cycle and a single replay with the new
// token; a second 401 for the same request is final. Network failures and
// retryable 5xx responses are retried per the RetryPolicy. Any error returned
// is an *APIError.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.Path, req.Query)
	if _, err := http.NewRequest(method, target, nil); err != nil {
		return nil, normalize(fmt.Errorf("failed to create request: %w", err), KindFatal)
	}

	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID, "method", method, "url", target)

	var (
		rc    RequestContext
		fresh string // token handed back by a refresh cycle
	)
	for {
		token := fresh
		if token == "" {
			token = c.readAccess(ctx)
		}

		resp, err := c.attempt(ctx, method, target, requestID, token, req)
		if err == nil {
			logger.Debug("request succeeded", "status", resp.StatusCode, "attempt", rc.Attempt)
			return resp, nil
		}

		if statusOf(err) == http.StatusUnauthorized {
			if rc.AuthRetried {
				logger.Info("access token rejected after refresh")
				c.coordinator.Expire(ctx, token)
				return nil, normalize(err, KindAuthExhausted)
			}

			rc = rc.withAuthRetried()
			logger.Debug("access token rejected, waiting for refresh")
			newToken, refreshErr := c.coordinator.HandleAuthFailure(ctx, err)
			if refreshErr != nil {
				return nil, refreshErr
			}
			fresh = newToken
			continue
		}

		if ctx.Err() == nil && c.policy.ShouldRetry(err, rc) {
			rc = rc.nextAttempt()
			delay := c.policy.Backoff(rc.Attempt)
			apiErr := normalize(err, KindTransient)

			logger.Info("retrying request", "attempt", rc.Attempt, "delay", delay, "error", apiErr)
			c.events.retryScheduled(RetryInfo{
				RequestID: requestID,
				Method:    method,
				URL:       target,
				Attempt:   rc.Attempt,
				Delay:     delay,
				Err:       apiErr,
			})

			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, normalize(sleepErr, KindTransient)
			}
			continue
		}

		kind := KindFatal
		if isTransient(err) {
			kind = KindTransient
		}
		apiErr := normalize(err, kind)
		logger.Debug("request failed", "error", apiErr, "kind", kind.String(), "attempt", rc.Attempt)
		return nil, apiErr
	}
}

// attempt performs one HTTP exchange under the per-attempt timeout. Non-2xx
// responses come back as *HTTPError.
func (c *Client) attempt(
	ctx context.Context,
	method, target, requestID, token string,
	req *Request,
) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.header {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for key, values := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	httpReq.Header.Set(headerRequestID, requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := roundTrip(attemptCtx, c.doer, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Response: out}
	}
	return out, nil
}

// DoJSON sends in as a JSON body (when non-nil) and decodes a non-empty
// response body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req := &Request{Method: method, Path: path}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return normalize(fmt.Errorf("failed to encode request: %w", err), KindFatal)
		}
		req.Body = data
	}

	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return normalize(err, KindFatal)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPut, path, in, out)
}

func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, http.MethodDelete, path, nil, out)
}
