package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

const (
	outboxSize  = 32
	sendTimeout = 5 * time.Second
)

// SessionStore is the part of the token store the bridge writes through.
type SessionStore interface {
	Write(ctx context.Context, p token.Pair) error
	WriteUser(ctx context.Context, u token.UserInfo) error
	ReadUser(ctx context.Context) token.UserInfo
	Clear(ctx context.Context)
}

// Options selects and configures the bridge.
type Options struct {
	// ShellURL is the shell's message endpoint. Messages are posted to
	// ShellURL+"/login" and ShellURL+"/logout". Empty means no shell.
	ShellURL   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Detect returns a Native bridge when a shell is configured and Absent
// otherwise. The choice is fixed for the life of the session.
func Detect(opts Options, store SessionStore, bus *events.Bus) (Bridge, error) {
	if opts.ShellURL == "" {
		return Absent{}, nil
	}
	return NewNative(opts, store, bus)
}

// Native posts messages to a shell over HTTP and accepts the shell's
// login and logout calls through Handler.
type Native struct {
	shell  string
	client *retry.Client
	store  SessionStore
	bus    *events.Bus
	log    zerolog.Logger

	outbox    chan Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNative returns a bridge posting to opts.ShellURL.
func NewNative(opts Options, store SessionStore, bus *events.Bus) (*Native, error) {
	if store == nil {
		return nil, errors.New("bridge: session store is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: sendTimeout}
	}
	client, err := retry.NewBackgroundClient(retry.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	n := &Native{
		shell:  strings.TrimRight(opts.ShellURL, "/"),
		client: client,
		store:  store,
		bus:    bus,
		log:    opts.Logger,
		outbox: make(chan Message, outboxSize),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.deliver()
	return n, nil
}

func (n *Native) Present() bool { return true }

// NotifyLogin queues a login message for the shell.
func (n *Native) NotifyLogin(_ context.Context, p token.Pair, u token.UserInfo) {
	n.enqueue(loginMessage(p, u))
}

// NotifyLogout queues a logout message for the shell.
func (n *Native) NotifyLogout(context.Context) {
	n.enqueue(Message{Type: TypeLogout})
}

// OnNativeLogin stores the pair handed over by the shell and announces the
// login. The announcement restarts the refresh scheduler.
func (n *Native) OnNativeLogin(ctx context.Context, info LoginInfo) error {
	pair := info.Pair()
	if pair.AccessToken == "" {
		return errors.New("login info carries no access token")
	}
	if err := n.store.Write(ctx, pair); err != nil {
		return fmt.Errorf("failed to store tokens from shell: %w", err)
	}
	if err := n.store.WriteUser(ctx, info.User()); err != nil {
		n.log.Warn().Err(err).Msg("failed to store user info from shell")
	}
	n.publish(events.Event{
		Topic:  events.WebLoginSuccess,
		Pair:   pair,
		User:   info.User(),
		Source: events.SourceNative,
	})
	return nil
}

// OnNativeLogout ends the session at the shell's request.
func (n *Native) OnNativeLogout(ctx context.Context) {
	n.store.Clear(ctx)
	n.publish(events.Event{Topic: events.AppLogout, Source: events.SourceNative})
	n.publish(events.Event{Topic: events.ForceLoginRedirect, Source: events.SourceNative})
}

// Subscribe forwards web logins, logouts, forced logouts and refreshed
// pairs to the shell. Events that came from the shell are not echoed back.
func (n *Native) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(func(ev events.Event) {
		if ev.Source == events.SourceNative {
			return
		}
		switch ev.Topic {
		case events.WebLoginSuccess:
			n.NotifyLogin(context.Background(), ev.Pair, ev.User)
		case events.WebLogout, events.ForceLoginRedirect:
			n.NotifyLogout(context.Background())
		case events.TokenRefreshSuccess:
			n.NotifyLogin(context.Background(), ev.Pair, n.store.ReadUser(context.Background()))
		}
	},
		events.WebLoginSuccess,
		events.WebLogout,
		events.ForceLoginRedirect,
		events.TokenRefreshSuccess,
	)
}

// Close stops delivery after flushing queued messages.
func (n *Native) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}

func (n *Native) enqueue(m Message) {
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.outbox <- m:
	default:
		n.log.Warn().Str("type", m.Type).Msg("bridge outbox full, dropping message")
	}
}

// deliver posts queued messages in order so a login never overtakes the
// logout queued before it.
func (n *Native) deliver() {
	defer n.wg.Done()
	for {
		select {
		case m := <-n.outbox:
			n.post(m)
		case <-n.done:
			for {
				select {
				case m := <-n.outbox:
					n.post(m)
				default:
					return
				}
			}
		}
	}
}

func (n *Native) post(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	body, err := json.Marshal(m)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to encode bridge message")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.shell+"/"+m.Type, bytes.NewReader(body))
	if err != nil {
		n.log.Error().Err(err).Msg("failed to create bridge request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.DoWithContext(ctx, req)
	if err != nil {
		n.log.Warn().Err(err).Str("type", m.Type).Msg("failed to notify shell")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.log.Warn().Int("status", resp.StatusCode).Str("type", m.Type).Msg("shell rejected message")
		return
	}
	n.log.Debug().Str("type", m.Type).Msg("shell notified")
}

func (n *Native) publish(ev events.Event) {
	if n.bus != nil {
		n.bus.Publish(ev)
	}
}
