package tokenstore

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// CookieBackend mirrors the record into a cookie jar scoped to the API
// origin. The same jar is attached to the pipeline's HTTP client so the
// cookies travel with requests.
type CookieBackend struct {
	jar http.CookieJar
	u   *url.URL
}

// NewCookieJar returns a jar using the public suffix list.
func NewCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// NewCookieBackend stores cookies for the origin of baseURL in jar.
func NewCookieBackend(jar http.CookieJar, baseURL string) (*CookieBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &CookieBackend{jar: jar, u: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}}, nil
}

func (c *CookieBackend) Name() string { return "cookie" }

// Jar returns the underlying cookie jar.
func (c *CookieBackend) Jar() http.CookieJar { return c.jar }

func (c *CookieBackend) Load(context.Context) (Record, error) {
	rec := Record{}
	for _, ck := range c.jar.Cookies(c.u) {
		v, err := url.QueryUnescape(ck.Value)
		if err != nil {
			continue
		}
		rec[ck.Name] = v
	}
	return rec, nil
}

func (c *CookieBackend) Save(_ context.Context, rec Record) error {
	cookies := make([]*http.Cookie, 0, len(rec))
	for k, v := range rec {
		cookies = append(cookies, c.cookie(k, v, 0))
	}
	c.jar.SetCookies(c.u, cookies)
	return nil
}

func (c *CookieBackend) Delete(_ context.Context, keys ...string) error {
	cookies := make([]*http.Cookie, 0, len(keys))
	for _, k := range keys {
		cookies = append(cookies, c.cookie(k, "", -1))
	}
	c.jar.SetCookies(c.u, cookies)
	return nil
}

func (c *CookieBackend) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   c.u.Scheme == "https",
		SameSite: http.SameSiteStrictMode,
	}
}
