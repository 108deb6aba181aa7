// Package notify holds the single transient status message shown to an
// editor user after an operation completes.
package notify

import (
	"sync"
	"time"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3 * time.Second

type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
)

type Notification struct {
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text"`
	Section string    `json:"section,omitempty"`
	At      time.Time `json:"at"`
}

// Channel keeps at most one visible notification. A newer notification
// replaces the current one; each clears itself after the TTL.
type Channel struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	current  *Notification
	gen      uint64
	timer    *time.Timer
	closed   bool
	onChange func(Notification, bool)

	// observeMu orders observer calls; one whose notification was replaced
	// before its turn is skipped.
	observeMu sync.Mutex
}

type Option func(*Channel)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Channel) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source used to stamp notifications.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// OnChange registers an observer called after every change with the
// visible notification, or ok=false when nothing is visible. Calls are
// serialised and a change already superseded is not reported, so the last
// call always matches Current. The observer must not push to the channel.
func OnChange(fn func(n Notification, ok bool)) Option {
	return func(c *Channel) { c.onChange = fn }
}

func New(opts ...Option) *Channel {
	c := &Channel{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) TTL() time.Duration { return c.ttl }

func (c *Channel) Success(section, text string) { c.Push(Success, section, text) }

func (c *Channel) Error(section, text string) { c.Push(Error, section, text) }

// Push replaces the visible notification and arms its expiry.
func (c *Channel) Push(kind Kind, section, text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	n := Notification{Kind: kind, Text: text, Section: section, At: c.now()}
	c.current = &n
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.ttl, func() { c.expire(gen) })
	c.mu.Unlock()

	c.deliver(gen, n, true)
}

func (c *Channel) deliver(gen uint64, n Notification, ok bool) {
	c.observeMu.Lock()
	defer c.observeMu.Unlock()
	c.mu.Lock()
	observer := c.onChange
	current := gen == c.gen
	c.mu.Unlock()

	if current && observer != nil {
		observer(n, ok)
	}
}

func (c *Channel) expire(gen uint64) {
	c.mu.Lock()
	// A timer that fired while being replaced must not clear the newer one.
	if gen != c.gen || c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.timer = nil
	c.mu.Unlock()

	c.deliver(gen, Notification{}, false)
}

// Current returns the visible notification.
func (c *Channel) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// Clear hides the visible notification immediately.
func (c *Channel) Clear() {
	c.mu.Lock()
	had := c.current != nil
	c.current = nil
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if had {
		c.deliver(gen, Notification{}, false)
	}
}

// Close stops the expiry timer. Pushes after Close are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.current = nil
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
