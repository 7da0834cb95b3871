package authclient

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
)

// Doer issues a single HTTP request. *retry.Client satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPDoer adapts a plain *http.Client to Doer.
func HTTPDoer(client *http.Client) Doer {
	return httpDoer{client: client}
}

type httpDoer struct {
	client *http.Client
}

func (d httpDoer) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(ctx))
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}
}

// transportLogger routes go-httpretry's own logging into logger. A nil
// logger silences it.
func transportLogger(logger *slog.Logger) retry.Option {
	if logger == nil {
		return retry.WithNoLogging()
	}
	return retry.WithLogger(retry.NewSlogAdapter(logger))
}

// NewTransport returns the default Doer used by Client.Send and the refresh
// call. It never retries or classifies responses itself; RetryPolicy decides
// what is retried.
func NewTransport(logger *slog.Logger) (*retry.Client, error) {
	return retry.NewClient(
		retry.WithHTTPClient(newHTTPClient()),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(func(error, *http.Response) bool { return false }),
		transportLogger(logger),
	)
}

// NewRetryingTransport returns a Doer with go-httpretry's default retry
// behavior, suitable for unauthenticated calls such as login.
func NewRetryingTransport(logger *slog.Logger) (*retry.Client, error) {
	return retry.NewClient(
		retry.WithHTTPClient(newHTTPClient()),
		transportLogger(logger),
	)
}

// roundTrip sends req through doer. When a retrying Doer gives up on a
// retryable status it returns the last response together with a
// *retry.RetryError; that response is the server's answer and is returned
// without the error. Any other response paired with an error is closed.
func roundTrip(ctx context.Context, doer Doer, req *http.Request) (*http.Response, error) {
	resp, err := doer.DoWithContext(ctx, req)
	if err == nil || resp == nil {
		return resp, err
	}

	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) && retryErr.LastErr == nil {
		return resp, nil
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	return nil, err
}
