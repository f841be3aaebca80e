package actortest

import (
	"sync"
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
)

// FakeClock is a manually driven actor.Clock. Reducers read time from their
// inputs, so tests pair an Advance with the timer input that would have fired
// to replay TTL and timeout schedules deterministically.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ actor.Clock = (*FakeClock)(nil)

// NewFakeClock returns a FakeClock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements actor.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps the clock to t. Moving backwards is allowed; reducers treat
// timestamps as opaque.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
