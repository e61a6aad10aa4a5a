// Package token holds the access/refresh token pair and the unverified
// expiry decoding used to schedule refreshes.
package token

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Storage keys shared by every persistence backend.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserEmail    = "userEmail"
	KeyUserID       = "userId"
	KeyUserName     = "userName"
)

// Pair is the access/refresh credential pair issued by the auth server.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether neither token is set.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Complete reports whether both tokens are set.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// String redacts both values so a Pair can be logged safely.
func (p Pair) String() string {
	return fmt.Sprintf(
		"Pair<access: %s, refresh: %s>",
		redact(p.AccessToken),
		redact(p.RefreshToken),
	)
}

// OAuth2 converts the pair into an oauth2.Token. The expiry comes from the
// unverified exp claim and is zero when it cannot be decoded.
func (p Pair) OAuth2() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := ExpiryOf(p.AccessToken); ok {
		t.Expiry = time.Unix(exp, 0)
	}
	return t
}

// UserInfo is the user data kept next to the pair for UI collaborators.
type UserInfo struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Empty reports whether no field is set.
func (u UserInfo) Empty() bool {
	return u.Email == "" && u.UserID == "" && u.Name == ""
}

// ValidatePair checks a pair returned by the auth server.
func ValidatePair(p Pair) error {
	if p.AccessToken == "" {
		return errors.New("accessToken is empty")
	}

	if len(p.AccessToken) < 10 {
		return fmt.Errorf("accessToken is too short (length: %d)", len(p.AccessToken))
	}

	return nil
}

func redact(s string) string {
	switch {
	case s == "":
		return "<empty>"
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "***"
	}
}
