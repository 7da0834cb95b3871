package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct {
	Server  string
	Profile string
}

// MsgRequest signals that an API request is being sent.
type MsgRequest struct {
	Method string
	Path   string
}

// MsgRefreshStarted signals that a token refresh is in progress.
type MsgRefreshStarted struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRetryScheduled signals that a transient failure will be retried.
type MsgRetryScheduled struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// MsgSessionExpired signals that the session ended and a new login is needed.
type MsgSessionExpired struct{}

// MsgCallOK signals that an API call succeeded.
type MsgCallOK struct {
	Status int
	Bytes  int
}

// MsgCallFailed signals that an API call failed.
type MsgCallFailed struct{ Err error }

// MsgLoginOK signals that credentials were exchanged and tokens stored.
type MsgLoginOK struct {
	Profile   string
	ExpiresIn time.Duration
}

// MsgLoggedOut signals that stored tokens were removed.
type MsgLoggedOut struct{ Profile string }

// MsgStatus carries the stored session summary.
type MsgStatus struct{ Info StatusInfo }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
