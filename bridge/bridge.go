// Package bridge keeps the token session in sync with a hosting native
// shell. When no shell is configured the bridge does nothing.
package bridge

import (
	"context"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

// Message types sent to the shell.
const (
	TypeLogin  = "login"
	TypeLogout = "logout"
)

// LoginInfo is the login payload exchanged with the shell in both
// directions.
type LoginInfo struct {
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Email        string `json:"email,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Name         string `json:"name,omitempty"`
}

// Pair returns the token pair carried by the payload.
func (l LoginInfo) Pair() token.Pair {
	return token.Pair{AccessToken: l.Token, RefreshToken: l.RefreshToken}
}

// User returns the user info carried by the payload.
func (l LoginInfo) User() token.UserInfo {
	return token.UserInfo{Email: l.Email, UserID: l.UserID, Name: l.Name}
}

// Message is posted to the shell.
type Message struct {
	Type string `json:"type"`
	LoginInfo
}

func loginMessage(p token.Pair, u token.UserInfo) Message {
	return Message{
		Type: TypeLogin,
		LoginInfo: LoginInfo{
			Token:        p.AccessToken,
			RefreshToken: p.RefreshToken,
			Email:        u.Email,
			UserID:       u.UserID,
			Name:         u.Name,
		},
	}
}

// Bridge connects the session to the native shell. Outbound notifications
// never fail the caller; delivery errors are logged.
type Bridge interface {
	// Present reports whether a shell is attached.
	Present() bool
	NotifyLogin(ctx context.Context, p token.Pair, u token.UserInfo)
	NotifyLogout(ctx context.Context)
	// OnNativeLogin is called when the shell logs the user in.
	OnNativeLogin(ctx context.Context, info LoginInfo) error
	// OnNativeLogout is called when the shell logs the user out.
	OnNativeLogout(ctx context.Context)
	// Subscribe mirrors web-side session events to the shell.
	Subscribe(bus *events.Bus) func()
	Close()
}

// Absent is the bridge used outside a native shell.
type Absent struct{}

func (Absent) Present() bool                                           { return false }
func (Absent) NotifyLogin(context.Context, token.Pair, token.UserInfo) {}
func (Absent) NotifyLogout(context.Context)                            {}
func (Absent) OnNativeLogin(context.Context, LoginInfo) error          { return nil }
func (Absent) OnNativeLogout(context.Context)                          {}
func (Absent) Subscribe(*events.Bus) func()                            { return func() {} }
func (Absent) Close()                                                  {}
