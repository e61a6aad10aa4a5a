// Package tokentest mints JWTs for tests. The client never verifies
// signatures, so a fixed HMAC key is enough.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/go-authgate/authclient/token"
)

var signingKey = []byte("tokentest-signing-key")

// Access returns an HS256 access token expiring at exp.
func Access(tb testing.TB, exp time.Time) string {
	tb.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		tb.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

// Pair returns a pair whose access token expires after ttl.
func Pair(tb testing.TB, ttl time.Duration) token.Pair {
	tb.Helper()
	return token.Pair{
		AccessToken:  Access(tb, time.Now().Add(ttl)),
		RefreshToken: "refresh-" + uuid.NewString(),
	}
}
