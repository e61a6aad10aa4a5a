// Package tokenstore persists the token pair across several backends and
// reads it back with per-field priority.
package tokenstore

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

var (
	pairKeys = []string{token.KeyAccessToken, token.KeyRefreshToken}
	userKeys = []string{token.KeyUserEmail, token.KeyUserID, token.KeyUserName}
)

// ErrNoBackends is returned by New when no backend is given.
var ErrNoBackends = errors.New("tokenstore: at least one backend is required")

// Store replicates the token record over its backends. Backends are listed
// in read priority order, durable first.
type Store struct {
	mu       sync.RWMutex
	backends []Backend
	bus      *events.Bus
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes TokensWritten and TokensCleared on bus.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithLogger sets the logger used for per-backend failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New returns a store over backends in priority order.
func New(backends []Backend, opts ...Option) (*Store, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	s := &Store{backends: backends, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Backends returns the configured backends in priority order.
func (s *Store) Backends() []Backend {
	return append([]Backend(nil), s.backends...)
}

// Read returns the stored pair. Each field is taken from the first backend
// holding a non-empty value for it, so a partially written backend does not
// shadow a complete one. ok is false when no token is stored anywhere.
func (s *Store) Read(ctx context.Context) (token.Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.merge(ctx, pairKeys)
	p := token.Pair{
		AccessToken:  v[token.KeyAccessToken],
		RefreshToken: v[token.KeyRefreshToken],
	}
	return p, !p.Empty()
}

// ReadUser returns the user info stored next to the pair.
func (s *Store) ReadUser(ctx context.Context) token.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.merge(ctx, userKeys)
	return token.UserInfo{
		Email:  v[token.KeyUserEmail],
		UserID: v[token.KeyUserID],
		Name:   v[token.KeyUserName],
	}
}

// Write stores p in every backend. A failing backend is logged and skipped;
// an error is returned only when no backend accepted the write.
func (s *Store) Write(ctx context.Context, p token.Pair) error {
	rec := Record{
		token.KeyAccessToken:  p.AccessToken,
		token.KeyRefreshToken: p.RefreshToken,
	}
	if err := s.save(ctx, rec); err != nil {
		return err
	}
	s.publish(events.Event{Topic: events.TokensWritten, Pair: p, Source: events.SourceCore})
	return nil
}

// WriteUser stores user info in every backend. Empty fields are skipped.
func (s *Store) WriteUser(ctx context.Context, u token.UserInfo) error {
	rec := Record{}
	for k, v := range map[string]string{
		token.KeyUserEmail: u.Email,
		token.KeyUserID:    u.UserID,
		token.KeyUserName:  u.Name,
	} {
		if v != "" {
			rec[k] = v
		}
	}
	if len(rec) == 0 {
		return nil
	}
	return s.save(ctx, rec)
}

// Clear removes the pair and user info from every backend. It is
// idempotent and never fails; backend errors are logged.
func (s *Store) Clear(ctx context.Context) {
	keys := append(append([]string(nil), pairKeys...), userKeys...)

	s.mu.Lock()
	for _, b := range s.backends {
		if err := b.Delete(ctx, keys...); err != nil {
			s.log.Warn().Err(err).Str("backend", b.Name()).Msg("failed to clear tokens")
		}
	}
	s.mu.Unlock()

	s.publish(events.Event{Topic: events.TokensCleared, Source: events.SourceCore})
}

func (s *Store) merge(ctx context.Context, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, b := range s.backends {
		rec, err := b.Load(ctx)
		if err != nil {
			s.log.Warn().Err(err).Str("backend", b.Name()).Msg("failed to read tokens")
			continue
		}
		for _, k := range keys {
			if out[k] == "" && rec[k] != "" {
				out[k] = rec[k]
			}
		}
	}
	return out
}

func (s *Store) save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, b := range s.backends {
		if err := b.Save(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("backend", b.Name()).Msg("failed to write tokens")
			result = multierror.Append(result, err)
		}
	}
	if result != nil && len(result.Errors) == len(s.backends) {
		return result.ErrorOrNil()
	}
	return nil
}

func (s *Store) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
