package authclient

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Event topics published by the client.
const (
	TopicUnauthorized     = "auth:unauthorized"
	TopicRefreshStarted   = "auth:refresh:started"
	TopicRefreshSucceeded = "auth:refresh:succeeded"
	TopicRefreshFailed    = "auth:refresh:failed"
	TopicRetryScheduled   = "http:retry"
)

// UnauthorizedSignal is raised once per failed refresh cycle so the
// application shell can drop its session and send the user to login.
type UnauthorizedSignal interface {
	Fire()
}

// RetryInfo describes a scheduled transient retry.
type RetryInfo struct {
	RequestID string
	Method    string
	URL       string
	Attempt   int
	Delay     time.Duration
	Err       *APIError
}

// Events is the client's notification hub. Handlers run synchronously on the
// publishing goroutine and must not publish or subscribe from inside a handler.
// A nil *Events drops everything.
type Events struct {
	bus evbus.Bus
}

// NewEvents creates an empty event hub.
func NewEvents() *Events {
	return &Events{bus: evbus.New()}
}

// Fire publishes TopicUnauthorized.
func (e *Events) Fire() {
	if e == nil {
		return
	}
	e.bus.Publish(TopicUnauthorized)
}

func (e *Events) OnUnauthorized(fn func()) error {
	return e.bus.Subscribe(TopicUnauthorized, fn)
}

func (e *Events) OnRefreshStarted(fn func()) error {
	return e.bus.Subscribe(TopicRefreshStarted, fn)
}

func (e *Events) OnRefreshSucceeded(fn func()) error {
	return e.bus.Subscribe(TopicRefreshSucceeded, fn)
}

func (e *Events) OnRefreshFailed(fn func(err *APIError)) error {
	return e.bus.Subscribe(TopicRefreshFailed, fn)
}

func (e *Events) OnRetry(fn func(info RetryInfo)) error {
	return e.bus.Subscribe(TopicRetryScheduled, fn)
}

func (e *Events) refreshStarted() {
	if e != nil {
		e.bus.Publish(TopicRefreshStarted)
	}
}

func (e *Events) refreshSucceeded() {
	if e != nil {
		e.bus.Publish(TopicRefreshSucceeded)
	}
}

func (e *Events) refreshFailed(err *APIError) {
	if e != nil {
		e.bus.Publish(TopicRefreshFailed, err)
	}
}

func (e *Events) retryScheduled(info RetryInfo) {
	if e != nil {
		e.bus.Publish(TopicRetryScheduled, info)
	}
}
