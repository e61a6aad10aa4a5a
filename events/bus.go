// Package events is the in-process publish/subscribe channel that carries
// session notifications between the store, the refresh coordinator, the
// scheduler, the native bridge and UI collaborators.
package events

import (
	"sync"

	"github.com/go-authgate/authclient/token"
)

// Topic names a notification.
type Topic string

const (
	// TokensWritten is published after the token store wrote a pair.
	TokensWritten Topic = "tokensWritten"
	// TokensCleared is published after the token store was cleared.
	TokensCleared Topic = "tokensCleared"
	// TokenRefreshSuccess carries the pair issued by a successful refresh.
	TokenRefreshSuccess Topic = "tokenRefreshSuccess"
	// ForceLoginRedirect asks the UI to send the user to the login screen.
	ForceLoginRedirect Topic = "forceLoginRedirect"
	// WebLoginSuccess signals a completed login, from the web or the shell.
	WebLoginSuccess Topic = "webLoginSuccess"
	// WebLogout signals a logout initiated by the web page.
	WebLogout Topic = "webLogout"
	// AppLogout signals a logout initiated by the native shell.
	AppLogout Topic = "appLogout"
)

// Source tells subscribers where an event originated.
type Source string

const (
	SourceWeb    Source = "web"
	SourceNative Source = "native"
	SourceCore   Source = "core"
)

// Event is the payload delivered to subscribers. Pair and User are only set
// for topics that carry credentials.
type Event struct {
	Topic  Topic
	Pair   token.Pair
	User   token.UserInfo
	Source Source
	Err    error
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id     uint64
	topics map[Topic]struct{}
	fn     Handler
}

func (s *subscription) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for the given topics, or for every topic when none
// are given. The returned func removes the subscription and is idempotent.
func (b *Bus) Subscribe(fn Handler, topics ...Topic) func() {
	sub := &subscription{fn: fn}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev synchronously, in subscription order. Handlers run
// outside the bus lock so they may publish or subscribe themselves.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(ev.Topic) {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
