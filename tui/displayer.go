package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

// Displayer abstracts all output of a CLI command.
type Displayer interface {
	Banner()
	SessionRestored(expiresIn time.Duration)
	LoginRequired()
	LoggedIn(email string)
	LoggedOut()
	Refreshing()
	RefreshOK(expiresIn time.Duration)
	RefreshFailed(err error)
	ForceLogout(err error)
	Requesting(method, path string)
	RequestOK(status, retries int, cached bool)
	RequestFailed(err error)
	BridgeServing(addr string)
	Done(summary string)
	Fatal(err error)
}

// Follow forwards session notifications published on bus to d. The
// returned func stops forwarding.
func Follow(d Displayer, bus *events.Bus) func() {
	return bus.Subscribe(func(ev events.Event) {
		switch ev.Topic {
		case events.TokenRefreshSuccess:
			d.RefreshOK(token.Remaining(ev.Pair.AccessToken, time.Now()))
		case events.ForceLoginRedirect:
			d.ForceLogout(ev.Err)
		case events.WebLoginSuccess:
			d.LoggedIn(ev.User.Email)
		case events.WebLogout, events.AppLogout:
			d.LoggedOut()
		}
	},
		events.TokenRefreshSuccess,
		events.ForceLoginRedirect,
		events.WebLoginSuccess,
		events.WebLogout,
		events.AppLogout,
	)
}

// PlainDisplayer writes plain text output to w.
// Used when stdout is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== AuthGate API Client ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionRestored(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Found existing session (access token expires in %s)\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) LoginRequired() {
	fmt.Fprintln(p.w, "No stored session, run the login command first.")
}

func (p *PlainDisplayer) LoggedIn(email string) {
	if email == "" {
		fmt.Fprintln(p.w, "Logged in.")
		return
	}
	fmt.Fprintf(p.w, "Logged in as %s.\n", email)
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out.")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Token refreshed successfully! (expires in %s)\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) ForceLogout(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "Session expired, please log in again: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, "Session expired, please log in again.")
}

func (p *PlainDisplayer) Requesting(method, path string) {
	fmt.Fprintf(p.w, "%s %s\n", method, path)
}

func (p *PlainDisplayer) RequestOK(status, retries int, cached bool) {
	switch {
	case cached:
		fmt.Fprintf(p.w, "API call successful! (HTTP %d, cached)\n", status)
	case retries > 0:
		fmt.Fprintf(p.w, "API call successful! (HTTP %d after %d retries)\n", status, retries)
	default:
		fmt.Fprintf(p.w, "API call successful! (HTTP %d)\n", status)
	}
}

func (p *PlainDisplayer) RequestFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) BridgeServing(addr string) {
	fmt.Fprintf(p.w, "Serving native bridge on %s\n", addr)
}

func (p *PlainDisplayer) Done(summary string) {
	if summary == "" {
		return
	}
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, summary)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                         {}
func (NoopDisplayer) SessionRestored(_ time.Duration) {}
func (NoopDisplayer) LoginRequired()                  {}
func (NoopDisplayer) LoggedIn(_ string)               {}
func (NoopDisplayer) LoggedOut()                      {}
func (NoopDisplayer) Refreshing()                     {}
func (NoopDisplayer) RefreshOK(_ time.Duration)       {}
func (NoopDisplayer) RefreshFailed(_ error)           {}
func (NoopDisplayer) ForceLogout(_ error)             {}
func (NoopDisplayer) Requesting(_, _ string)          {}
func (NoopDisplayer) RequestOK(_, _ int, _ bool)      {}
func (NoopDisplayer) RequestFailed(_ error)           {}
func (NoopDisplayer) BridgeServing(_ string)          {}
func (NoopDisplayer) Done(_ string)                   {}
func (NoopDisplayer) Fatal(_ error)                   {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionRestored(expiresIn time.Duration) {
	t.p.Send(MsgSessionRestored{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) LoginRequired() {
	t.p.Send(MsgLoginRequired{})
}

func (t *ProgramDisplayer) LoggedIn(email string) {
	t.p.Send(MsgLoggedIn{Email: email})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK(expiresIn time.Duration) {
	t.p.Send(MsgRefreshOK{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) ForceLogout(err error) {
	t.p.Send(MsgForceLogout{Err: err})
}

func (t *ProgramDisplayer) Requesting(method, path string) {
	t.p.Send(MsgRequesting{Method: method, Path: path})
}

func (t *ProgramDisplayer) RequestOK(status, retries int, cached bool) {
	t.p.Send(MsgRequestOK{Status: status, Retries: retries, Cached: cached})
}

func (t *ProgramDisplayer) RequestFailed(err error) {
	t.p.Send(MsgRequestFailed{Err: err})
}

func (t *ProgramDisplayer) BridgeServing(addr string) {
	t.p.Send(MsgBridgeServing{Addr: addr})
}

func (t *ProgramDisplayer) Done(summary string) {
	t.p.Send(MsgDone{Summary: summary})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
