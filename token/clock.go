package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The decoding below never verifies the signature. It only feeds refresh
// scheduling; the server stays the authority on token validity and nothing
// here may be used for an authorization decision.

var parser = jwt.NewParser()

// ExpiryOf returns the exp claim of an access token in epoch seconds.
// It reports false for malformed tokens or tokens without exp.
func ExpiryOf(accessToken string) (int64, bool) {
	if accessToken == "" {
		return 0, false
	}

	// Only the payload segment is read; the header may be anything.
	parts := strings.Split(accessToken, ".")
	if len(parts) != 3 {
		return 0, false
	}
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return 0, false
	}
	var claims jwt.RegisteredClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return 0, false
	}

	if claims.ExpiresAt == nil {
		return 0, false
	}
	return claims.ExpiresAt.Unix(), true
}

// IsValid reports whether the token has a decodable exp later than now.
func IsValid(accessToken string, now time.Time) bool {
	exp, ok := ExpiryOf(accessToken)
	return ok && exp > now.Unix()
}

// Remaining returns the time left before expiry, clamped to zero for
// expired or undecodable tokens.
func Remaining(accessToken string, now time.Time) time.Duration {
	exp, ok := ExpiryOf(accessToken)
	if !ok {
		return 0
	}
	left := exp - now.Unix()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

// Clock binds the expiry helpers to a time source so callers can be tested
// with a fixed now.
type Clock struct {
	Now func() time.Time
}

// SystemClock uses time.Now.
var SystemClock = Clock{Now: time.Now}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// IsValid reports whether accessToken is unexpired at the clock's now.
func (c Clock) IsValid(accessToken string) bool {
	return IsValid(accessToken, c.now())
}

// Remaining returns the time left on accessToken at the clock's now.
func (c Clock) Remaining(accessToken string) time.Duration {
	return Remaining(accessToken, c.now())
}

// ExpiresAt returns the decoded expiry as a time.Time.
func (c Clock) ExpiresAt(accessToken string) (time.Time, bool) {
	exp, ok := ExpiryOf(accessToken)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(exp, 0), true
}

// Until returns the duration from the clock's now to t.
func (c Clock) Until(t time.Time) time.Duration {
	return t.Sub(c.now())
}
