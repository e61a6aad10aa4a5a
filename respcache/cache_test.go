package respcache

import (
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestTTLRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(WithClock(clock.Now))

	c.Set("k", []byte("v"), time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok, "entry is still valid at exactly its ttl")

	clock.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is removed on read")
}

func TestDefaultTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New(WithClock(clock.Now))

	c.Set("k", []byte("v"), 0)
	clock.Advance(DefaultTTL - time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestFIFOEviction(t *testing.T) {
	const maxSize = 4
	c := New(WithMaxSize(maxSize))

	for i := 0; i <= maxSize; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte{byte(i)}, 0)
	}
	assert.Equal(t, maxSize, c.Len())

	_, ok := c.Get("key-0")
	assert.False(t, ok, "first inserted key is evicted")
	for i := 1; i <= maxSize; i++ {
		_, ok := c.Get(fmt.Sprintf("key-%d", i))
		assert.True(t, ok)
	}
}

func TestEvictionIgnoresReads(t *testing.T) {
	c := New(WithMaxSize(2))
	c.Set("a", nil, 0)
	c.Set("b", nil, 0)
	c.Get("a")
	c.Set("c", nil, 0)

	_, ok := c.Get("a")
	assert.False(t, ok, "reads do not promote entries")
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New(WithMaxSize(2))
	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("1"), 0)
	c.Set("a", []byte("2"), 0)

	assert.Equal(t, 2, c.Len())
	got, _ := c.Get("a")
	assert.Equal(t, []byte("2"), got)

	c.Set("c", nil, 0)
	_, ok := c.Get("b")
	assert.False(t, ok, "b became the oldest entry")
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Set(Key("get", "https://api.test/products", nil), nil, 0)
	c.Set(Key("GET", "https://api.test/products/7", nil), nil, 0)
	c.Set(Key("GET", "https://api.test/orders", url.Values{"page": {"2"}}), nil, 0)

	assert.Equal(t, 2, c.Invalidate("/products"))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Invalidate(""))
	assert.Zero(t, c.Len())
}

func TestCallersCannotMutateEntries(t *testing.T) {
	c := New()
	data := []byte(`{"id":1}`)
	c.Set("k", data, 0)
	data[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(got))

	got[0] = 'Y'
	again, _ := c.Get("k")
	assert.Equal(t, `{"id":1}`, string(again))
}

func TestKey(t *testing.T) {
	k := Key("get", "https://api.test/orders", url.Values{"page": {"2"}, "limit": {"10"}})
	assert.Equal(t, "GET:https://api.test/orders:limit=10&page=2", k)
}
