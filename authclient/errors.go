package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"golang.org/x/oauth2"
)

// Default messages used when a failure carries no usable text.
const (
	msgUnexpected = "An unexpected error occurred"
	msgUnknown    = "An unknown error occurred"
)

// Kind classifies a surfaced failure.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
	KindAuthExpired
	KindAuthRefreshFailed
	KindAuthExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthRefreshFailed:
		return "auth_refresh_failed"
	case KindAuthExhausted:
		return "auth_exhausted"
	default:
		return "fatal"
	}
}

// APIError is the single error shape delivered to callers of Client.Send.
// Status is 0 when no response was received. Details holds the decoded
// response body (or the raw text when it is not JSON).
type APIError struct {
	Message string
	Status  int
	Code    string
	Details any
	Kind    Kind

	cause error
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	default:
		return e.Message
	}
}

func (e *APIError) Unwrap() error { return e.cause }

// IsAuthFailure reports whether the session can no longer be used and the
// user has to log in again.
func (e *APIError) IsAuthFailure() bool {
	return e.Kind == KindAuthRefreshFailed || e.Kind == KindAuthExhausted
}

// HTTPError reports a non-2xx response from the API.
type HTTPError struct {
	Response *Response
}

func (e *HTTPError) Error() string {
	if e.Response == nil {
		return "request failed"
	}
	return fmt.Sprintf("request failed with status %d", e.Response.StatusCode)
}

// NormalizeError maps any failure into an APIError. It never returns nil and
// never panics; an APIError passes through unchanged.
func NormalizeError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return normalize(err, classify(err))
}

// normalize builds the APIError for err with the given kind. An existing
// APIError of another kind is copied, not modified.
func normalize(err error, kind Kind) *APIError {
	if err == nil {
		return &APIError{Message: msgUnknown, Kind: kind}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == kind {
			return apiErr
		}
		rekinded := *apiErr
		rekinded.Kind = kind
		rekinded.cause = apiErr
		return &rekinded
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		return fromResponse(err, kind, httpErr.Response.StatusCode, httpErr.Response.Body)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return fromResponse(err, kind, retrieveErr.Response.StatusCode, retrieveErr.Body)
	}

	if code := transportCode(err); code != "" {
		return &APIError{Message: messageOr(err, msgUnexpected), Code: code, Kind: kind, cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &APIError{Message: messageOr(err, msgUnexpected), Kind: kind, cause: err}
	}

	return &APIError{Message: messageOr(err, msgUnknown), Kind: kind, cause: err}
}

func fromResponse(err error, kind Kind, status int, body []byte) *APIError {
	apiErr := &APIError{
		Message: messageOr(err, msgUnexpected),
		Status:  status,
		Kind:    kind,
		cause:   err,
	}
	if len(body) == 0 {
		return apiErr
	}

	var decoded any
	if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil {
		apiErr.Details = string(body)
		return apiErr
	}
	apiErr.Details = decoded

	if obj, ok := decoded.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			apiErr.Message = msg
		} else if msg, ok := obj["error"].(string); ok && msg != "" {
			apiErr.Message = msg
		}
	}
	return apiErr
}

// transportCode returns the connection-level identifier of err, if any.
func transportCode(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return "ERR_CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.EPIPE):
		return "EPIPE"
	case errors.As(err, &dnsErr):
		return "ENOTFOUND"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	return ""
}

func messageOr(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

// statusOf returns the response status carried by err, or 0 when the failure
// happened before a response was received.
func statusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		return httpErr.Response.StatusCode
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode
	}
	return 0
}

// classify derives the failure kind from a single attempt's error.
func classify(err error) Kind {
	status := statusOf(err)
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case isTransient(err):
		return KindTransient
	default:
		return KindFatal
	}
}
