package tokenstore

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/authclient/token"
)

type recordingJar struct {
	http.CookieJar
	set []*http.Cookie
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.set = append(j.set, cookies...)
	j.CookieJar.SetCookies(u, cookies)
}

func TestCookieBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	jar, err := NewCookieJar()
	require.NoError(t, err)

	cb, err := NewCookieBackend(jar, "http://api.example.com/v1")
	require.NoError(t, err)

	require.NoError(t, cb.Save(ctx, Record{
		token.KeyAccessToken: "a.b.c",
		token.KeyUserEmail:   "ada+1@example.com",
	}))

	rec, err := cb.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", rec[token.KeyAccessToken])
	assert.Equal(t, "ada+1@example.com", rec[token.KeyUserEmail])

	u, _ := url.Parse("http://api.example.com/orders")
	assert.Len(t, jar.Cookies(u), 2, "cookies are scoped to path /")

	require.NoError(t, cb.Delete(ctx, token.KeyAccessToken, token.KeyUserEmail))
	rec, err = cb.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestCookieBackendAttributes(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		base   string
		secure bool
	}{
		{"https://shop.example.com", true},
		{"http://localhost:8080", false},
	} {
		jar, err := NewCookieJar()
		require.NoError(t, err)
		rj := &recordingJar{CookieJar: jar}

		cb, err := NewCookieBackend(rj, tc.base)
		require.NoError(t, err)
		require.NoError(t, cb.Save(ctx, Record{token.KeyRefreshToken: "r"}))

		require.Len(t, rj.set, 1)
		c := rj.set[0]
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, tc.secure, c.Secure, tc.base)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	}
}
