// ABOUTME: Wall-clock millisecond source used for every protocol timestamp
// ABOUTME: Components never read system time directly so tests can inject a fake
package clock

import "time"

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was
	// prevented from running.
	Stop() bool
}

// Clock stamps protocol timestamps and schedules callbacks. Client and
// server both stamp Unix milliseconds so ping/pong math is comparable
// across the wire.
type Clock interface {
	NowMs() int64
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the production clock backed by the OS wall clock.
type System struct{}

// NewSystem creates the production clock.
func NewSystem() *System {
	return &System{}
}

func (s *System) NowMs() int64 {
	return time.Now().UnixMilli()
}

func (s *System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
