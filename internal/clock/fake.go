package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Tickers and timers fire
// synchronously from Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	ch       chan time.Time
	deadline time.Time
	period   time.Duration // zero for timers
	stopped  bool
}

// NewFake returns a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker creates a ticker that fires every d of fake time.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
		period:   d,
	}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{f: f, w: w}
}

// NewTimer creates a one-shot timer that fires after d of fake time.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
	}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{f: f, w: w}
}

// Advance moves the fake time forward and fires every ticker and timer
// whose deadline falls within the advanced window. Sends are non-blocking
// so an undrained channel drops the tick, matching time.Ticker behaviour.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for {
		var next *fakeWaiter
		for _, w := range f.waiters {
			if w.stopped || w.deadline.After(target) {
				continue
			}
			if next == nil || w.deadline.Before(next.deadline) {
				next = w
			}
		}
		if next == nil {
			break
		}
		f.now = next.deadline
		select {
		case next.ch <- next.deadline:
		default:
		}
		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
		} else {
			next.stopped = true
		}
	}
	f.now = target
}

type fakeTicker struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.w.stopped = true
}

type fakeTimer struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.ch }

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	active := !t.w.stopped
	t.w.stopped = true
	return active
}

func (t *fakeTimer) Reset(d time.Duration) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.w.deadline = t.f.now.Add(d)
	t.w.stopped = false
}
