// Package clock abstracts wall-clock time and timers so that the scheduler
// and the restart machine can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and creates tickers and timers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer delivers a single tick after its duration elapses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration)
}

// System returns a Clock backed by package time.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time   { return s.t.C }
func (s *systemTimer) Stop() bool            { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) { s.t.Reset(d) }
