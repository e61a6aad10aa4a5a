// Package scheduler refreshes the access token before it expires, using a
// recurring check plus a one-shot timer aimed just ahead of the expiry.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultLead     = 60 * time.Second
	DefaultLowWater = 5 * time.Minute
)

// TokenReader reads the current pair.
type TokenReader interface {
	Read(ctx context.Context) (token.Pair, bool)
}

// Refresher obtains a new pair.
type Refresher interface {
	Refresh(ctx context.Context) (token.Pair, error)
}

// AutoRefresh owns at most one recurring handle and one one-shot handle.
type AutoRefresh struct {
	store     TokenReader
	refresher Refresher
	timers    Timers
	clock     token.Clock
	interval  time.Duration
	lead      time.Duration
	lowWater  time.Duration
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	recurring Handle
	oneShot   Handle
	// gen identifies the current one-shot; callbacks of replaced timers
	// carry an older value.
	gen uint64
}

// Option configures an AutoRefresh.
type Option func(*AutoRefresh)

// WithInterval sets the recurring check interval.
func WithInterval(d time.Duration) Option {
	return func(a *AutoRefresh) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithLead sets how long before expiry the one-shot timer fires.
func WithLead(d time.Duration) Option {
	return func(a *AutoRefresh) {
		if d >= 0 {
			a.lead = d
		}
	}
}

// WithLowWater sets the remaining lifetime at which the recurring check
// refreshes.
func WithLowWater(d time.Duration) Option {
	return func(a *AutoRefresh) {
		if d > 0 {
			a.lowWater = d
		}
	}
}

func WithClock(c token.Clock) Option {
	return func(a *AutoRefresh) { a.clock = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(a *AutoRefresh) { a.log = log }
}

// New returns a stopped scheduler.
func New(store TokenReader, refresher Refresher, timers Timers, opts ...Option) (*AutoRefresh, error) {
	switch {
	case store == nil:
		return nil, errors.New("scheduler: token reader is required")
	case refresher == nil:
		return nil, errors.New("scheduler: refresher is required")
	case timers == nil:
		return nil, errors.New("scheduler: timers are required")
	}

	a := &AutoRefresh{
		store:     store,
		refresher: refresher,
		timers:    timers,
		clock:     token.SystemClock,
		interval:  DefaultInterval,
		lead:      DefaultLead,
		lowWater:  DefaultLowWater,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// Start cancels any installed timers and installs a fresh recurring check
// and one-shot timer.
func (a *AutoRefresh) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelLocked()

	h, err := a.timers.Every(a.interval, a.check)
	if err != nil {
		return err
	}
	a.recurring = h
	a.log.Debug().Dur("interval", a.interval).Msg("auto refresh started")

	return a.scheduleLocked()
}

// Stop cancels both timers. It is a no-op when nothing is installed.
func (a *AutoRefresh) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recurring != nil || a.oneShot != nil {
		a.log.Debug().Msg("auto refresh stopped")
	}
	a.cancelLocked()
}

// Running reports whether the recurring check is installed.
func (a *AutoRefresh) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recurring != nil
}

// Reschedule replaces the one-shot timer using the current token. It does
// nothing while stopped.
func (a *AutoRefresh) Reschedule() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recurring == nil {
		return nil
	}
	return a.scheduleLocked()
}

// Close stops the scheduler and aborts any check in progress.
func (a *AutoRefresh) Close() {
	a.Stop()
	a.cancel()
}

// Subscribe makes the scheduler follow session events on bus. Handlers only
// touch timer handles, so they run inline with the publisher.
func (a *AutoRefresh) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(func(ev events.Event) {
		var err error
		switch ev.Topic {
		case events.TokensCleared, events.ForceLoginRedirect, events.AppLogout:
			a.Stop()
		case events.WebLoginSuccess:
			err = a.Start()
		case events.TokenRefreshSuccess:
			err = a.Reschedule()
		}
		if err != nil {
			a.log.Error().Err(err).Str("topic", string(ev.Topic)).Msg("failed to update refresh timers")
		}
	},
		events.TokensCleared,
		events.ForceLoginRedirect,
		events.AppLogout,
		events.WebLoginSuccess,
		events.TokenRefreshSuccess,
	)
}

// scheduleLocked installs the one-shot timer Lead before the decoded
// expiry. A token already inside the lead window is refreshed right away.
func (a *AutoRefresh) scheduleLocked() error {
	if a.oneShot != nil {
		a.oneShot.Cancel()
		a.oneShot = nil
	}
	a.gen++
	gen := a.gen

	pair, ok := a.store.Read(a.ctx)
	if !ok {
		return nil
	}
	exp, ok := a.clock.ExpiresAt(pair.AccessToken)
	if !ok {
		// Undecodable tokens count as expired; the recurring check refreshes.
		return nil
	}

	delay := a.clock.Until(exp) - a.lead
	if delay <= 0 {
		go a.fire(gen)
		return nil
	}

	h, err := a.timers.After(delay, func() { a.fire(gen) })
	if err != nil {
		return err
	}
	a.oneShot = h
	a.log.Debug().Dur("in", delay).Msg("refresh scheduled before expiry")
	return nil
}

func (a *AutoRefresh) cancelLocked() {
	if a.recurring != nil {
		a.recurring.Cancel()
		a.recurring = nil
	}
	if a.oneShot != nil {
		a.oneShot.Cancel()
		a.oneShot = nil
	}
	a.gen++
}

// check refreshes when the remaining lifetime is at or below the low-water
// mark.
func (a *AutoRefresh) check() {
	pair, ok := a.store.Read(a.ctx)
	if !ok {
		return
	}
	remaining := a.clock.Remaining(pair.AccessToken)
	if remaining > a.lowWater {
		return
	}
	a.log.Debug().Dur("remaining", remaining).Msg("access token near expiry")
	a.refresh()
}

// fire runs the one-shot of generation gen. A callback whose timer was
// already replaced or cancelled does nothing.
func (a *AutoRefresh) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.oneShot = nil
	a.mu.Unlock()

	if _, ok := a.store.Read(a.ctx); !ok {
		return
	}
	a.refresh()
}

func (a *AutoRefresh) refresh() {
	if _, err := a.refresher.Refresh(a.ctx); err != nil {
		a.log.Warn().Err(err).Msg("scheduled refresh failed")
	}
}
