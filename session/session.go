// Package session assembles the token store, refresh coordinator, request
// pipeline, auto refresh scheduler and native bridge into one object built
// from a config.Config.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/go-authgate/authclient/bridge"
	"github.com/go-authgate/authclient/config"
	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/logging"
	"github.com/go-authgate/authclient/pipeline"
	"github.com/go-authgate/authclient/refresh"
	"github.com/go-authgate/authclient/respcache"
	"github.com/go-authgate/authclient/scheduler"
	"github.com/go-authgate/authclient/token"
	"github.com/go-authgate/authclient/tokenstore"
)

// ErrNoBridge is returned by ServeBridge when no native shell is configured.
var ErrNoBridge = errors.New("session: native bridge is not configured")

const shutdownTimeout = 5 * time.Second

type options struct {
	log    zerolog.Logger
	rdb    redis.UniversalClient
	timers scheduler.Timers
}

// Option configures New.
type Option func(*options)

// WithLogger sets the root logger. Each component gets a child logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRedis makes rdb the durable backend regardless of the redis-addr
// setting. The caller keeps ownership of rdb.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *options) { o.rdb = rdb }
}

// WithTimers replaces the gocron timers driving the scheduler.
func WithTimers(t scheduler.Timers) Option {
	return func(o *options) { o.timers = t }
}

// Session owns every collaborator of one authenticated client.
type Session struct {
	cfg   config.Config
	log   zerolog.Logger
	bus   *events.Bus
	store *tokenstore.Store

	refresher *refresh.Coordinator
	client    *pipeline.Client
	cache     *respcache.Cache
	auto      *scheduler.AutoRefresh
	bridge    bridge.Bridge

	unsubscribe []func()
	closers     []func() error
	closeOnce   sync.Once
}

// New builds a session from cfg. Nothing runs until Restore or Login.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		cfg: cfg,
		log: logging.Component(o.log, "session"),
		bus: events.NewBus(),
	}

	jar, err := tokenstore.NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	durable, err := s.durableBackend(o.rdb)
	if err != nil {
		return nil, err
	}
	cookies, err := tokenstore.NewCookieBackend(jar, cfg.ServerURL)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.store, err = tokenstore.New(
		[]tokenstore.Backend{durable, tokenstore.NewMemoryBackend(), cookies},
		tokenstore.WithBus(s.bus),
		tokenstore.WithLogger(logging.Component(o.log, "tokenstore")),
	)
	if err != nil {
		s.closeAll()
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = pipeline.DefaultTimeout
	}
	httpClient := pipeline.NewHTTPClient(timeout, jar)

	s.refresher, err = refresh.New(s.store, cfg.ServerURL,
		refresh.WithHTTPClient(httpClient),
		refresh.WithTimeout(timeout),
		refresh.WithBus(s.bus),
		refresh.WithLogger(logging.Component(o.log, "refresh")),
	)
	if err != nil {
		s.closeAll()
		return nil, err
	}

	s.cache = respcache.New(
		respcache.WithMaxSize(cfg.CacheSize),
		respcache.WithTTL(cfg.CacheTTL),
	)
	s.client, err = pipeline.New(pipeline.Config{
		BaseURL:        cfg.ServerURL,
		HTTPClient:     httpClient,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Limiter:        newLimiter(cfg.RateLimit),
		Cache:          s.cache,
		Bus:            s.bus,
		Logger:         logging.Component(o.log, "pipeline"),
	}, s.store, s.refresher)
	if err != nil {
		s.closeAll()
		return nil, err
	}

	timers := o.timers
	if timers == nil {
		cron := scheduler.NewCronTimers()
		s.closers = append(s.closers, func() error { cron.Close(); return nil })
		timers = cron
	}
	s.auto, err = scheduler.New(s.store, s.refresher, timers,
		scheduler.WithInterval(cfg.CheckInterval),
		scheduler.WithLowWater(cfg.LowWater),
		scheduler.WithLogger(logging.Component(o.log, "scheduler")),
	)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.unsubscribe = append(s.unsubscribe, s.auto.Subscribe(s.bus))

	s.bridge, err = bridge.Detect(bridge.Options{
		ShellURL: cfg.NativeBridgeURL,
		Logger:   logging.Component(o.log, "bridge"),
	}, s.store, s.bus)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.unsubscribe = append(s.unsubscribe, s.bridge.Subscribe(s.bus))

	return s, nil
}

func (s *Session) durableBackend(rdb redis.UniversalClient) (tokenstore.Backend, error) {
	if rdb == nil && s.cfg.RedisAddr != "" {
		owned := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{s.cfg.RedisAddr},
		})
		s.closers = append(s.closers, owned.Close)
		rdb = owned
	}
	if rdb != nil {
		s.log.Debug().Str("redis", s.cfg.RedisAddr).Msg("using redis token storage")
		return tokenstore.NewRedisBackend(rdb, s.cfg.ClientID), nil
	}
	if s.cfg.TokenFile == "" {
		return nil, errors.New("session: token file or redis address is required")
	}
	return tokenstore.NewFileBackend(s.cfg.TokenFile, s.cfg.ClientID), nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(math.Ceil(rps))))
}

// Restore resumes a persisted session. When a pair is stored the scheduler
// is started and the pair is returned.
func (s *Session) Restore(ctx context.Context) (token.Pair, bool, error) {
	pair, ok := s.store.Read(ctx)
	if !ok {
		return token.Pair{}, false, nil
	}
	if err := s.auto.Start(); err != nil {
		return pair, true, fmt.Errorf("failed to start auto refresh: %w", err)
	}
	s.log.Info().Stringer("pair", pair).Msg("restored session")
	return pair, true, nil
}

// Login stores a pair obtained by the web login flow and announces it. The
// scheduler restarts and the shell is told through the bus.
func (s *Session) Login(ctx context.Context, pair token.Pair, user token.UserInfo) error {
	if err := token.ValidatePair(pair); err != nil {
		return fmt.Errorf("invalid token pair: %w", err)
	}
	if err := s.store.Write(ctx, pair); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if err := s.store.WriteUser(ctx, user); err != nil {
		s.log.Warn().Err(err).Msg("failed to save user info")
	}
	s.bus.Publish(events.Event{
		Topic:  events.WebLoginSuccess,
		Pair:   pair,
		User:   user,
		Source: events.SourceWeb,
	})
	return nil
}

// Logout clears every backend and announces a web logout.
func (s *Session) Logout(ctx context.Context) {
	s.store.Clear(ctx)
	s.cache.Invalidate("")
	s.bus.Publish(events.Event{Topic: events.WebLogout, Source: events.SourceWeb})
}

// ServeBridge serves the shell's handleAppLogin and handleAppLogout entry
// points on the bridge-listen address until ctx is done.
func (s *Session) ServeBridge(ctx context.Context) error {
	native, ok := s.bridge.(*bridge.Native)
	if !ok {
		return ErrNoBridge
	}
	if s.cfg.BridgeListen == "" {
		return errors.New("session: bridge listen address is required")
	}

	ln, err := net.Listen("tcp", s.cfg.BridgeListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.BridgeListen, err)
	}
	srv := &http.Server{
		Handler:           native.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving native bridge")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down bridge server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the scheduler, flushes the bridge and releases owned
// connections. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, fn := range s.unsubscribe {
			fn()
		}
		if s.auto != nil {
			s.auto.Close()
		}
		if s.bridge != nil {
			s.bridge.Close()
		}
		err = s.closeAll()
	})
	return err
}

func (s *Session) closeAll() error {
	var errs []error
	for _, fn := range s.closers {
		errs = append(errs, fn())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Session) Client() *pipeline.Client          { return s.client }
func (s *Session) Store() *tokenstore.Store          { return s.store }
func (s *Session) Refresher() *refresh.Coordinator   { return s.refresher }
func (s *Session) Scheduler() *scheduler.AutoRefresh { return s.auto }
func (s *Session) Bridge() bridge.Bridge             { return s.bridge }
func (s *Session) Bus() *events.Bus                  { return s.bus }
func (s *Session) Cache() *respcache.Cache           { return s.cache }
