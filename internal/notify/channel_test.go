package notify

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultTTLIsThreeSeconds(t *testing.T) {
	c := New()
	defer c.Close()
	assert.Equal(t, 3000*time.Millisecond, c.TTL())
}

func TestNotificationExpires(t *testing.T) {
	ttl := 30 * time.Millisecond
	c := New(WithTTL(ttl))
	defer c.Close()

	c.Success("heroContent", "heroContent saved")
	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, Success, n.Kind)
	assert.Equal(t, "heroContent", n.Section)

	assert.Eventually(t, func() bool {
		_, ok := c.Current()
		return !ok
	}, 10*ttl, 5*time.Millisecond)
}

func TestNewerNotificationWins(t *testing.T) {
	c := New(WithTTL(time.Hour))
	defer c.Close()

	c.Error("images", "images failed")
	c.Success("heroContent", "heroContent saved")

	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, Success, n.Kind)
	assert.Equal(t, "heroContent saved", n.Text)
}

func TestReplacedTimerDoesNotClearNewer(t *testing.T) {
	ttl := 40 * time.Millisecond
	c := New(WithTTL(ttl))
	defer c.Close()

	c.Error("a", "first")
	time.Sleep(ttl / 2)
	c.Success("b", "second")

	// The first notification's deadline passes; the second must survive it.
	time.Sleep(ttl/2 + 10*time.Millisecond)
	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "second", n.Text)

	assert.Eventually(t, func() bool {
		_, ok := c.Current()
		return !ok
	}, 10*ttl, 5*time.Millisecond)
}

func TestClearAndObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	c := New(WithTTL(time.Hour), OnChange(func(_ Notification, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ok)
	}))
	defer c.Close()

	c.Success("", "done")
	c.Clear()
	c.Clear()

	_, ok := c.Current()
	assert.False(t, ok)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestPushAfterCloseIsIgnored(t *testing.T) {
	c := New()
	c.Close()
	c.Success("", "late")
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestClockStampsNotification(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return at }))
	defer c.Close()

	c.Error("seo", "failed")
	n, _ := c.Current()
	assert.Equal(t, at, n.At)
}

func TestObserverEndsOnCurrentNotification(t *testing.T) {
	var mu sync.Mutex
	var last string
	c := New(WithTTL(time.Hour), OnChange(func(n Notification, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		last = n.Text
	}))
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Success("", "saved "+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	n, ok := c.Current()
	require.True(t, ok)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n.Text, last)
}
