package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// StatusInfo summarizes the stored session for the status command.
type StatusInfo struct {
	Profile    string
	Store      string
	HasAccess  bool
	HasRefresh bool
	Subject    string
	ExpiresAt  time.Time // zero when the token carries no exp claim
}

// Displayer abstracts all progress output of a dashctl command.
type Displayer interface {
	Banner(server, profile string)
	Request(method, path string)
	RefreshStarted()
	RefreshOK()
	RefreshFailed(err error)
	RetryScheduled(attempt int, delay time.Duration, err error)
	SessionExpired()
	CallOK(status, bytes int)
	CallFailed(err error)
	LoginOK(profile string, expiresIn time.Duration)
	LoggedOut(profile string)
	Status(info StatusInfo)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(server, profile string) {
	fmt.Fprintf(p.w, "=== dashctl (%s, profile %s) ===\n", server, profile)
}

func (p *PlainDisplayer) Request(method, path string) {
	fmt.Fprintf(p.w, "%s %s\n", method, path)
}

func (p *PlainDisplayer) RefreshStarted() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed, retrying...")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) RetryScheduled(attempt int, delay time.Duration, err error) {
	fmt.Fprintf(p.w, "Request failed (%v), retry %d in %s\n", err, attempt, delay)
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Session expired, run `dashctl login` to sign in again.")
}

func (p *PlainDisplayer) CallOK(status, bytes int) {
	fmt.Fprintf(p.w, "API call successful! (status %d, %d bytes)\n", status, bytes)
}

func (p *PlainDisplayer) CallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) LoginOK(profile string, expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Logged in as profile %s\n", profile)
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Access token expires in %s\n", expiresIn.Round(time.Second))
	}
}

func (p *PlainDisplayer) LoggedOut(profile string) {
	fmt.Fprintf(p.w, "Tokens for profile %s removed\n", profile)
}

func (p *PlainDisplayer) Status(info StatusInfo) {
	fmt.Fprintln(p.w, "========================================")
	fmt.Fprintf(p.w, "Profile:       %s (%s store)\n", info.Profile, info.Store)
	fmt.Fprintf(p.w, "Access Token:  %s\n", presence(info.HasAccess))
	fmt.Fprintf(p.w, "Refresh Token: %s\n", presence(info.HasRefresh))
	if info.Subject != "" {
		fmt.Fprintf(p.w, "Subject:       %s\n", info.Subject)
	}
	if !info.ExpiresAt.IsZero() {
		fmt.Fprintf(p.w, "Expires:       %s\n", expiryText(info.ExpiresAt))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func expiryText(at time.Time) string {
	left := time.Until(at)
	if left <= 0 {
		return fmt.Sprintf("%s (expired)", at.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (in %s)", at.Format(time.RFC3339), formatDuration(left))
}

// NoopDisplayer discards every event.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_, _ string)                             {}
func (NoopDisplayer) Request(_, _ string)                            {}
func (NoopDisplayer) RefreshStarted()                                {}
func (NoopDisplayer) RefreshOK()                                     {}
func (NoopDisplayer) RefreshFailed(_ error)                          {}
func (NoopDisplayer) RetryScheduled(_ int, _ time.Duration, _ error) {}
func (NoopDisplayer) SessionExpired()                                {}
func (NoopDisplayer) CallOK(_, _ int)                                {}
func (NoopDisplayer) CallFailed(_ error)                             {}
func (NoopDisplayer) LoginOK(_ string, _ time.Duration)              {}
func (NoopDisplayer) LoggedOut(_ string)                             {}
func (NoopDisplayer) Status(_ StatusInfo)                            {}
func (NoopDisplayer) Fatal(_ error)                                  {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(server, profile string) {
	t.p.Send(MsgBanner{Server: server, Profile: profile})
}

func (t *ProgramDisplayer) Request(method, path string) {
	t.p.Send(MsgRequest{Method: method, Path: path})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshStarted{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) RetryScheduled(attempt int, delay time.Duration, err error) {
	t.p.Send(MsgRetryScheduled{Attempt: attempt, Delay: delay, Err: err})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) CallOK(status, bytes int) {
	t.p.Send(MsgCallOK{Status: status, Bytes: bytes})
}

func (t *ProgramDisplayer) CallFailed(err error) {
	t.p.Send(MsgCallFailed{Err: err})
}

func (t *ProgramDisplayer) LoginOK(profile string, expiresIn time.Duration) {
	t.p.Send(MsgLoginOK{Profile: profile, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) LoggedOut(profile string) {
	t.p.Send(MsgLoggedOut{Profile: profile})
}

func (t *ProgramDisplayer) Status(info StatusInfo) {
	t.p.Send(MsgStatus{Info: info})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
