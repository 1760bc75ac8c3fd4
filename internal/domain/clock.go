package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

var clock = clockwork.NewRealClock()

// SetClock replaces the time source behind default observation times and
// result timestamps, and returns a function restoring the previous one.
// A nil clock means real time.
func SetClock(c clockwork.Clock) (restore func()) {
	prev := clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
	return func() { clock = prev }
}

// hourToday returns today's date in loc at the given hour, or at the current
// hour when hour is nil, with minutes and seconds zeroed.
func hourToday(loc *time.Location, hour *int) time.Time {
	now := clock.Now().In(loc)
	h := now.Hour()
	if hour != nil {
		h = *hour
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, loc)
}
