package trends

import "time"

// Clock supplies the current time. Components take one so freshness and
// timestamps can be driven by tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return ClockFunc(time.Now)
}
