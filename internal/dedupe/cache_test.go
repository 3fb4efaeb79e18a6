// ABOUTME: Tests for the dedupe cache
// ABOUTME: Covers TTL expiry, capacity eviction and atomic check-and-mark

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.now
	return c, clock
}

func TestCache_CheckUnseen(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	assert.False(t, c.Check("evt-1"))
}

func TestCache_MarkThenCheck(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	c.Mark("evt-1")
	assert.True(t, c.Check("evt-1"))
	assert.False(t, c.Check("evt-2"))
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Mark("evt-1")

	clock.advance(59 * time.Second)
	assert.True(t, c.Check("evt-1"))

	clock.advance(time.Second)
	assert.False(t, c.Check("evt-1"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_MarkRefreshesTimestamp(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Mark("evt-1")
	clock.advance(45 * time.Second)
	c.Mark("evt-1")
	clock.advance(45 * time.Second)

	assert.True(t, c.Check("evt-1"))
}

func TestCache_CapacityEviction(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	for i := range 4 {
		c.Mark(fmt.Sprintf("evt-%d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Check("evt-0"), "oldest key should be evicted")
	assert.True(t, c.Check("evt-3"))
}

func TestCache_CheckAndMark(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	assert.False(t, c.CheckAndMark("evt-1"), "first delivery is new")
	assert.True(t, c.CheckAndMark("evt-1"), "redelivery is a duplicate")

	clock.advance(2 * time.Minute)
	assert.False(t, c.CheckAndMark("evt-1"), "expired key is new again")
}

func TestCache_CheckAndMarkConcurrent(t *testing.T) {
	c, _ := newTestCache(time.Minute, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("evt-1") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_Purge(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	c.Mark("a")
	c.Mark("b")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("slack", "Ev1"), Key("slack", "Ev1"))
	assert.NotEqual(t, Key("slack", "Ev1"), Key("matrix", "Ev1"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}
