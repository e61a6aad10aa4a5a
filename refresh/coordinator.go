// Package refresh exchanges the stored refresh token for a new pair,
// collapsing concurrent callers into one network call.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
	"github.com/go-authgate/authclient/tokenstore"
)

// Path is the refresh endpoint relative to the API base URL.
const Path = "/auth/refresh"

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	// ErrNoRefreshToken means no backend holds a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshFailed wraps every failed refresh call. The session is gone
	// once it is returned.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Doer sends a refresh request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// Coordinator owns the single in-flight refresh. Construct one per process
// and share it between the request pipeline and the scheduler.
type Coordinator struct {
	store    *tokenstore.Store
	endpoint string
	client   Doer
	timeout  time.Duration
	bus      *events.Bus
	log      zerolog.Logger

	group singleflight.Group
	calls atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the client used for the refresh call. It should share
// the cookie jar of the API client.
func WithHTTPClient(c Doer) Option {
	return func(rc *Coordinator) { rc.client = c }
}

// WithTimeout bounds a single refresh call.
func WithTimeout(d time.Duration) Option {
	return func(rc *Coordinator) {
		if d > 0 {
			rc.timeout = d
		}
	}
}

func WithBus(bus *events.Bus) Option {
	return func(rc *Coordinator) { rc.bus = bus }
}

func WithLogger(log zerolog.Logger) Option {
	return func(rc *Coordinator) { rc.log = log }
}

// New returns a coordinator refreshing against baseURL.
func New(store *tokenstore.Store, baseURL string, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("refresh: token store is required")
	}
	if baseURL == "" {
		return nil, errors.New("refresh: base URL is required")
	}
	rc := &Coordinator{
		store:    store,
		endpoint: strings.TrimRight(baseURL, "/") + Path,
		client:   http.DefaultClient,
		timeout:  defaultTimeout,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

// Calls returns how many refresh requests reached the network.
func (rc *Coordinator) Calls() int64 {
	return rc.calls.Load()
}

// Refresh returns a fresh pair. Concurrent callers share one network call
// and its outcome. The call itself is not bound to ctx: a caller that gives
// up early does not cancel it for the others.
//
// On failure the store is cleared and ForceLoginRedirect is published
// before the error is returned.
func (rc *Coordinator) Refresh(ctx context.Context) (token.Pair, error) {
	ch := rc.group.DoChan("refresh", func() (any, error) {
		return rc.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return token.Pair{}, res.Err
		}
		return res.Val.(token.Pair), nil
	case <-ctx.Done():
		return token.Pair{}, ctx.Err()
	}
}

func (rc *Coordinator) refresh(ctx context.Context) (token.Pair, error) {
	current, _ := rc.store.Read(ctx)
	if current.RefreshToken == "" {
		rc.fail(ctx, ErrNoRefreshToken)
		return token.Pair{}, ErrNoRefreshToken
	}

	pair, err := rc.exchange(ctx, current.RefreshToken)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		rc.fail(ctx, err)
		return token.Pair{}, err
	}

	if err := rc.store.Write(ctx, pair); err != nil {
		// Callers still get the new pair; the next read may fall back to
		// whatever the backends hold.
		rc.log.Error().Err(err).Msg("failed to persist refreshed tokens")
	}

	rc.log.Info().Str("pair", pair.String()).Msg("access token refreshed")
	rc.publish(events.Event{Topic: events.TokenRefreshSuccess, Pair: pair, Source: events.SourceCore})
	return pair, nil
}

func (rc *Coordinator) exchange(ctx context.Context, refreshToken string) (token.Pair, error) {
	reqCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return token.Pair{}, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rc.endpoint, bytes.NewReader(body))
	if err != nil {
		return token.Pair{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rc.calls.Add(1)
	resp, err := rc.client.Do(req)
	if err != nil {
		return token.Pair{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retrieveErr := &oauth2.RetrieveError{Response: resp, Body: raw}
		var errResp errorResponse
		if json.Unmarshal(raw, &errResp) == nil {
			retrieveErr.ErrorCode = errResp.Error
			retrieveErr.ErrorDescription = errResp.ErrorDescription
			if retrieveErr.ErrorDescription == "" {
				retrieveErr.ErrorDescription = errResp.Message
			}
		}
		return token.Pair{}, retrieveErr
	}

	var tokenResp refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return token.Pair{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	pair := token.Pair{AccessToken: tokenResp.AccessToken, RefreshToken: tokenResp.RefreshToken}
	if err := token.ValidatePair(pair); err != nil {
		return token.Pair{}, fmt.Errorf("invalid token response: %w", err)
	}

	// Servers without rotation omit the refresh token; keep the old one.
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (rc *Coordinator) fail(ctx context.Context, err error) {
	rc.log.Warn().Err(err).Msg("refresh failed, clearing session")
	rc.store.Clear(ctx)
	rc.publish(events.Event{Topic: events.ForceLoginRedirect, Err: err, Source: events.SourceCore})
}

func (rc *Coordinator) publish(ev events.Event) {
	if rc.bus != nil {
		rc.bus.Publish(ev)
	}
}
