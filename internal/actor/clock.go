package actor

import "time"

// Clock provides a testable time source.
//
// Reducers must not call a Clock directly; runtimes stamp inputs with the
// clock's current time instead.
type Clock interface {
	Now() time.Time
}

// RealClock is a production Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// NowMs returns t as milliseconds since epoch, the wire timestamp unit.
func NowMs(c Clock) int64 { return c.Now().UnixMilli() }
