package authclient

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried for transient
// reasons. A 401 is never transient; it belongs to the refresh path.
type RetryPolicy struct {
	// MaxRetries bounds the number of transient retries per logical request.
	MaxRetries int
	// BaseDelay is multiplied by the retry number to get the wait before it.
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries twice, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
	}
}

// ShouldRetry reports whether err qualifies for another attempt given the
// retries already spent in rc.
func (p RetryPolicy) ShouldRetry(err error, rc RequestContext) bool {
	return rc.Attempt < p.MaxRetries && isTransient(err)
}

// Backoff returns the wait before retry number n (1-based). The schedule is
// linear: n * BaseDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return time.Duration(n) * p.BaseDelay
}

// isTransient reports whether err is a network-level failure (no response)
// or a retryable server error. 501 Not Implemented is permanent.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	status := statusOf(err)
	if status == 0 {
		return true
	}
	return status >= http.StatusInternalServerError && status != http.StatusNotImplemented
}

// RequestContext tracks the recovery already spent on one logical request.
// It is copied, never shared, between attempts.
type RequestContext struct {
	// AuthRetried is set once the request has gone through a refresh cycle.
	AuthRetried bool
	// Attempt counts transient retries issued so far.
	Attempt int
}

func (rc RequestContext) withAuthRetried() RequestContext {
	rc.AuthRetried = true
	return rc
}

func (rc RequestContext) nextAttempt() RequestContext {
	rc.Attempt++
	return rc
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
