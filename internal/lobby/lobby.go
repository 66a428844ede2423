// Package lobby tracks the server's currently loaded track and notifies
// listeners when it changes. A track load marks a lobby boundary, which
// the restart machinery uses as a safe drain point.
package lobby

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/logmon"
)

// Listener receives the track id and observation time of each load.
type Listener func(trackID string, at time.Time)

type listenerEntry struct {
	fn   Listener
	live bool
}

// Tracker holds the last loaded track and a listener list. The list is
// append-only: cancelling marks an entry inert but keeps its slot, so
// fan-out never races with removal.
type Tracker struct {
	mu        sync.Mutex
	current   string
	loadedAt  time.Time
	listeners []*listenerEntry
	logger    zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{logger: log.WithComponent("lobby")}
}

// Attach subscribes the tracker to track-load events on the bus.
func (t *Tracker) Attach(bus *logmon.Bus) {
	bus.Subscribe(logmon.Handlers{TrackLoaded: t.OnTrackLoaded})
}

// OnTrackLoaded records the new track and fans it out to listeners. A
// panicking listener is logged and does not starve the rest.
func (t *Tracker) OnTrackLoaded(trackID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	t.current = trackID
	t.loadedAt = now
	listeners := make([]*listenerEntry, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	t.logger.Info().Str("track", trackID).Msg("track loaded")
	for _, entry := range listeners {
		t.mu.Lock()
		live := entry.live
		t.mu.Unlock()
		if live {
			t.notify(entry.fn, trackID, now)
		}
	}
}

func (t *Tracker) notify(fn Listener, trackID string, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("track listener panicked")
		}
	}()
	fn(trackID, at)
}

// Subscribe registers a listener for future track loads and returns a
// best-effort cancel func: the entry stays, calls stop.
func (t *Tracker) Subscribe(fn Listener) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := &listenerEntry{fn: fn, live: true}
	t.listeners = append(t.listeners, entry)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		entry.live = false
	}
}

// Current returns the last loaded track id and when it was observed.
// The id is empty until the first load.
func (t *Tracker) Current() (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.loadedAt
}

// Reset clears the current track. Tied to server-process stop.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = ""
	t.loadedAt = time.Time{}
}
