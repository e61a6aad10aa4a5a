package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionRestored signals that stored tokens were found.
type MsgSessionRestored struct{ ExpiresIn time.Duration }

// MsgLoginRequired signals that no stored session exists.
type MsgLoginRequired struct{}

// MsgLoggedIn signals that a pair was stored by a login.
type MsgLoggedIn struct{ Email string }

// MsgLoggedOut signals that the session was cleared on request.
type MsgLoggedOut struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{ ExpiresIn time.Duration }

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgForceLogout signals that the session ended and the user must log in.
type MsgForceLogout struct{ Err error }

// MsgRequesting signals that an API request was sent.
type MsgRequesting struct {
	Method string
	Path   string
}

// MsgRequestOK signals that an API request completed.
type MsgRequestOK struct {
	Status  int
	Retries int
	Cached  bool
}

// MsgRequestFailed signals that an API request failed.
type MsgRequestFailed struct{ Err error }

// MsgBridgeServing signals that the shell entry points are being served.
type MsgBridgeServing struct{ Addr string }

// MsgDone signals successful completion of the command.
type MsgDone struct{ Summary string }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
