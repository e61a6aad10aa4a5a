package refresh_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/refresh"
	"github.com/go-authgate/authclient/token"
	"github.com/go-authgate/authclient/token/tokentest"
	"github.com/go-authgate/authclient/tokenstore"
)

type authServer struct {
	*httptest.Server
	hits    atomic.Int32
	entered chan struct{}
	release chan struct{}
	status  int
	next    token.Pair
	gotBody atomic.Value
}

type serverOption func(*authServer)

func gated(s *authServer) { s.release = make(chan struct{}) }

func respondWith(status int) serverOption {
	return func(s *authServer) { s.status = status }
}

func newAuthServer(t *testing.T, next token.Pair, opts ...serverOption) *authServer {
	t.Helper()
	s := &authServer{
		entered: make(chan struct{}, 16),
		status:  http.StatusOK,
		next:    next,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != refresh.Path || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		s.hits.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.gotBody.Store(body)

		s.entered <- struct{}{}
		if s.release != nil {
			<-s.release
		}

		w.Header().Set("Content-Type", "application/json")
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  s.next.AccessToken,
			"refreshToken": s.next.RefreshToken,
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func newStore(t *testing.T, bus *events.Bus, initial token.Pair) *tokenstore.Store {
	t.Helper()
	s, err := tokenstore.New(
		[]tokenstore.Backend{tokenstore.NewMemoryBackend()},
		tokenstore.WithBus(bus),
	)
	require.NoError(t, err)
	if !initial.Empty() {
		require.NoError(t, s.Write(context.Background(), initial))
	}
	return s
}

func collect(bus *events.Bus, topics ...events.Topic) func() []events.Topic {
	var mu sync.Mutex
	var got []events.Topic
	bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev.Topic)
		mu.Unlock()
	}, topics...)
	return func() []events.Topic {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Topic(nil), got...)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	old := tokentest.Pair(t, -time.Minute)
	next := tokentest.Pair(t, time.Hour)

	srv := newAuthServer(t, next, gated)
	store := newStore(t, bus, old)
	seen := collect(bus, events.TokenRefreshSuccess)

	rc, err := refresh.New(store, srv.URL, refresh.WithBus(bus))
	require.NoError(t, err)

	const callers = 8
	results := make([]token.Pair, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = rc.Refresh(ctx)
		}(i)
	}
	close(start)

	select {
	case <-srv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh endpoint never called")
	}
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(srv.release)
	wg.Wait()

	assert.EqualValues(t, 1, srv.hits.Load())
	assert.EqualValues(t, 1, rc.Calls())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, next, results[i])
	}
	assert.Equal(t, []events.Topic{events.TokenRefreshSuccess}, seen())

	stored, ok := store.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, next, stored)
	assert.Equal(t, map[string]string{"refreshToken": old.RefreshToken}, srv.gotBody.Load())
}

func TestRefreshSequentialCallsEachHitNetwork(t *testing.T) {
	ctx := context.Background()
	srv := newAuthServer(t, tokentest.Pair(t, time.Hour))
	store := newStore(t, nil, tokentest.Pair(t, time.Minute))

	rc, err := refresh.New(store, srv.URL)
	require.NoError(t, err)

	_, err = rc.Refresh(ctx)
	require.NoError(t, err)
	_, err = rc.Refresh(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load(), "settled refreshes are not reused")
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	old := tokentest.Pair(t, time.Minute)
	next := token.Pair{AccessToken: tokentest.Access(t, time.Now().Add(time.Hour))}

	srv := newAuthServer(t, next)
	store := newStore(t, nil, old)
	rc, err := refresh.New(store, srv.URL)
	require.NoError(t, err)

	got, err := rc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, old.RefreshToken, got.RefreshToken)
	assert.Equal(t, next.AccessToken, got.AccessToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	srv := newAuthServer(t, token.Pair{})
	store := newStore(t, bus, token.Pair{AccessToken: "stale-access-token"})
	seen := collect(bus, events.ForceLoginRedirect, events.TokensCleared)

	rc, err := refresh.New(store, srv.URL, refresh.WithBus(bus))
	require.NoError(t, err)

	_, err = rc.Refresh(ctx)
	require.ErrorIs(t, err, refresh.ErrNoRefreshToken)
	assert.Zero(t, srv.hits.Load(), "no network call without a refresh token")
	assert.Equal(t, []events.Topic{events.TokensCleared, events.ForceLoginRedirect}, seen())

	_, ok := store.Read(ctx)
	assert.False(t, ok)
}

func TestRefreshRejected(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	srv := newAuthServer(t, token.Pair{}, respondWith(http.StatusUnauthorized))
	store := newStore(t, bus, tokentest.Pair(t, time.Minute))
	seen := collect(bus, events.ForceLoginRedirect)

	rc, err := refresh.New(store, srv.URL, refresh.WithBus(bus))
	require.NoError(t, err)

	_, err = rc.Refresh(ctx)
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)

	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)

	assert.Equal(t, []events.Topic{events.ForceLoginRedirect}, seen())
	_, ok := store.Read(ctx)
	assert.False(t, ok)
}

func TestRefreshNetworkFailure(t *testing.T) {
	ctx := context.Background()
	srv := newAuthServer(t, token.Pair{})
	url := srv.URL
	srv.Close()

	store := newStore(t, nil, tokentest.Pair(t, time.Minute))
	rc, err := refresh.New(store, url, refresh.WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = rc.Refresh(ctx)
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	_, ok := store.Read(ctx)
	assert.False(t, ok)
}

func TestRefreshInvalidResponse(t *testing.T) {
	ctx := context.Background()
	srv := newAuthServer(t, token.Pair{AccessToken: "short"})
	store := newStore(t, nil, tokentest.Pair(t, time.Minute))

	rc, err := refresh.New(store, srv.URL)
	require.NoError(t, err)

	_, err = rc.Refresh(ctx)
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	assert.Contains(t, err.Error(), "too short")
}

func TestRefreshCallerCancellationDoesNotAbortSharedCall(t *testing.T) {
	bus := events.NewBus()
	next := tokentest.Pair(t, time.Hour)
	srv := newAuthServer(t, next, gated)
	store := newStore(t, bus, tokentest.Pair(t, time.Minute))

	rc, err := refresh.New(store, srv.URL, refresh.WithBus(bus))
	require.NoError(t, err)

	impatient, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := rc.Refresh(impatient)
		errc <- err
	}()

	<-srv.entered
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	done := make(chan token.Pair, 1)
	go func() {
		p, _ := rc.Refresh(context.Background())
		done <- p
	}()
	time.Sleep(50 * time.Millisecond)
	close(srv.release)

	assert.Equal(t, next, <-done)
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestNewValidation(t *testing.T) {
	_, err := refresh.New(nil, "http://x")
	assert.Error(t, err)

	store := newStore(t, nil, token.Pair{})
	_, err = refresh.New(store, "")
	assert.Error(t, err)
}
