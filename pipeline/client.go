// Package pipeline is the authenticated API client. Every request carries
// the current bearer token, transient failures are retried with exponential
// backoff and a 401 triggers exactly one refresh-and-resend.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/logging"
	"github.com/go-authgate/authclient/respcache"
	"github.com/go-authgate/authclient/token"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRetryBaseDelay = time.Second
	DefaultMaxRetries     = 3
)

// TokenStore is the part of the token store the client needs.
type TokenStore interface {
	Read(ctx context.Context) (token.Pair, bool)
	Clear(ctx context.Context)
}

// Refresher obtains a new pair after a 401.
type Refresher interface {
	Refresh(ctx context.Context) (token.Pair, error)
}

// Config is used to configure a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string

	// HTTPClient sends each attempt. Its Timeout bounds a single attempt.
	// Defaults to NewHTTPClient(DefaultTimeout, nil).
	HTTPClient *http.Client

	// RetryBaseDelay is the wait before the first retry; it doubles for each
	// following one. Defaults to one second.
	RetryBaseDelay time.Duration

	// MaxRetries caps transient retries per send. Zero means the default,
	// a negative value disables retrying.
	MaxRetries int

	// RetryNonIdempotent allows retrying POST and PATCH on transient
	// failures.
	RetryNonIdempotent bool

	// Limiter, when set, throttles outgoing requests.
	Limiter *rate.Limiter

	// Cache, when set, stores successful GET responses.
	Cache *respcache.Cache

	// Bus receives ForceLoginRedirect when the session expires.
	Bus *events.Bus

	Clock  token.Clock
	Logger zerolog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	cfg       Config
	store     TokenStore
	refresher Refresher
	log       zerolog.Logger
}

// New returns a client reading tokens from store and refreshing through
// refresher.
func New(cfg Config, store TokenStore, refresher Refresher) (*Client, error) {
	if store == nil || refresher == nil {
		return nil, errors.New("pipeline: token store and refresher are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", cfg.BaseURL)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(DefaultTimeout, nil)
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}

	return &Client{
		base:      base,
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		log:       cfg.Logger,
	}, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Params: params})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// InvalidateCache drops cached responses whose key contains pattern.
func (c *Client) InvalidateCache(pattern string) int {
	if c.cfg.Cache == nil {
		return 0
	}
	return c.cfg.Cache.Invalidate(pattern)
}

// Do sends r. A non-2xx outcome is returned as a *RequestError; for status
// failures the response is returned too.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	meta := &Metadata{RequestID: uuid.NewString(), StartTime: time.Now()}
	ctx = withMetadata(ctx, meta)

	endpoint, err := c.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	full := endpoint
	if len(r.Params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		full += sep + r.Params.Encode()
	}

	log := c.log.With().
		Str("request_id", meta.RequestID).
		Str("method", method).
		Str("url", endpoint).
		Logger()

	cacheable := method == http.MethodGet && c.cfg.Cache != nil && !r.NoCache
	cacheKey := respcache.Key(method, endpoint, r.Params)
	if cacheable {
		if data, ok := c.cfg.Cache.Get(cacheKey); ok {
			log.Debug().Msg("served from cache")
			return &Response{StatusCode: http.StatusOK, Body: data, Cached: true, Metadata: *meta}, nil
		}
	}

	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	pair, _ := c.store.Read(ctx)
	resp, err := c.send(ctx, method, full, body, r.Header, pair.AccessToken)
	if err != nil {
		return nil, c.failure(sendKind(ctx, err), method, endpoint, nil, meta, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		meta.RefreshAttempted = true
		log.Debug().Msg("access token rejected, refreshing")

		fresh, err := c.refresher.Refresh(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				// The shared refresh is still running; the session stays.
				return nil, c.failure(KindCanceled, method, endpoint, resp, meta, err)
			}
			// The refresher has already cleared the session.
			return nil, c.failure(KindAuth, method, endpoint, resp, meta,
				fmt.Errorf("%w: %w", ErrSessionExpired, err))
		}

		meta.retriesBeforeSend = meta.RetryCount
		resp, err = c.send(ctx, method, full, body, r.Header, fresh.AccessToken)
		if err != nil {
			return nil, c.failure(sendKind(ctx, err), method, endpoint, nil, meta, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			log.Warn().Msg("access token rejected after refresh, ending session")
			c.expire(ctx)
			return resp, c.failure(KindAuth, method, endpoint, resp, meta, ErrSessionExpired)
		}
	}
	resp.Metadata = *meta

	log.Debug().
		Int("status", resp.StatusCode).
		Int("retries", meta.RetryCount).
		Dur("elapsed", time.Since(meta.StartTime)).
		Msg("request completed")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if cacheable {
			c.cfg.Cache.Set(cacheKey, resp.Body, r.CacheTTL)
		} else if method != http.MethodGet && method != http.MethodHead && c.cfg.Cache != nil {
			if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
				c.cfg.Cache.Invalidate(u.Path)
			}
		}
		return resp, nil
	case isTransientStatus(resp.StatusCode):
		return resp, c.failure(KindTransient, method, endpoint, resp, meta, nil)
	default:
		return resp, c.failure(KindStatus, method, endpoint, resp, meta, nil)
	}
}

// send performs one send with transient retries and reads the body.
func (c *Client) send(
	ctx context.Context,
	method, target string,
	body []byte,
	header http.Header,
	accessToken string,
) (*Response, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errLimiterWait, err)
		}
	}

	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if m, ok := MetadataFrom(ctx); ok {
		req.Header.Set("X-Request-ID", m.RequestID)
	}

	client := &retryablehttp.Client{
		HTTPClient:     c.cfg.HTTPClient,
		RetryWaitMin:   c.cfg.RetryBaseDelay,
		RetryWaitMax:   Backoff(c.cfg.RetryBaseDelay, c.cfg.MaxRetries),
		RetryMax:       c.cfg.MaxRetries,
		Backoff:        backoff(c.cfg.RetryBaseDelay),
		CheckRetry:     checkRetry(c.cfg.RetryNonIdempotent || isIdempotent(method)),
		RequestLogHook: countRetries,
		Logger:         logging.Leveled(c.log),
		ErrorHandler:   retryablehttp.PassthroughErrorHandler,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// expire ends the session after the server rejected a freshly refreshed
// token.
func (c *Client) expire(ctx context.Context) {
	c.store.Clear(ctx)
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(events.Event{
			Topic:  events.ForceLoginRedirect,
			Err:    ErrSessionExpired,
			Source: events.SourceCore,
		})
	}
}

// errLimiterWait marks a send abandoned while waiting for the rate limiter.
var errLimiterWait = errors.New("rate limiter wait")

// sendKind classifies a send that produced no response.
func sendKind(ctx context.Context, err error) Kind {
	if ctx.Err() != nil || errors.Is(err, errLimiterWait) {
		return KindCanceled
	}
	return KindTransient
}

func (c *Client) failure(kind Kind, method, endpoint string, resp *Response, meta *Metadata, err error) error {
	re := &RequestError{
		Kind:     kind,
		Method:   method,
		URL:      endpoint,
		Metadata: *meta,
		Err:      err,
	}
	if resp != nil {
		re.StatusCode = resp.StatusCode
		re.Body = resp.Body
		resp.Metadata = *meta
	}
	return re
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(b); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.Marshal(b)
	}
}
