// Package players maintains the set of connected participants derived
// from parsed console events.
package players

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/logmon"
)

// Participant is a tracked connected entity, human or bot. Entries
// outlive departure (IsOnline=false) until the tracker is reset.
type Participant struct {
	Name       string    `json:"name"`
	IsBot      bool      `json:"isBot"`
	IsOnline   bool      `json:"isOnline"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Slot       *int      `json:"slot,omitempty"`
}

// Tracker holds participants keyed by name.
type Tracker struct {
	mu           sync.Mutex
	participants map[string]*Participant
	logger       zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		participants: make(map[string]*Participant),
		logger:       log.WithComponent("players"),
	}
}

// Attach subscribes the tracker to join/leave/kick events on the bus.
func (t *Tracker) Attach(bus *logmon.Bus) {
	bus.Subscribe(logmon.Handlers{
		Join:  t.Join,
		Leave: t.Leave,
		Kick:  t.Leave,
	})
}

// Join upserts a participant: a returning name is marked online again
// with a refreshed last-seen timestamp.
func (t *Tracker) Join(name string, isBot bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	if p, ok := t.participants[name]; ok {
		p.IsOnline = true
		p.LastSeenAt = now
		return
	}
	t.participants[name] = &Participant{
		Name:       name,
		IsBot:      isBot,
		IsOnline:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	t.logger.Debug().Str("name", name).Bool("bot", isBot).Msg("participant joined")
}

// Leave marks a participant offline. Unknown names are a no-op.
func (t *Tracker) Leave(name string, isBot bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.participants[name]
	if !ok {
		return
	}
	p.IsOnline = false
	p.LastSeenAt = time.Now().UTC()
}

// SetSlot records the server-assigned slot for a participant, if tracked.
func (t *Tracker) SetSlot(name string, slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.participants[name]; ok {
		s := slot
		p.Slot = &s
	}
}

// Snapshot returns the currently online participants ordered by slot
// (absent slots last), then by join time.
func (t *Tracker) Snapshot() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		if p.IsOnline {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Slot != nil && b.Slot != nil && *a.Slot != *b.Slot:
			return *a.Slot < *b.Slot
		case a.Slot != nil && b.Slot == nil:
			return true
		case a.Slot == nil && b.Slot != nil:
			return false
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	return out
}

// Count returns online and total human participants. Bots are excluded:
// restart decisions care about real players only.
func (t *Tracker) Count() (online, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.participants {
		if p.IsBot {
			continue
		}
		total++
		if p.IsOnline {
			online++
		}
	}
	return online, total
}

// Reset erases all entries. Tied to server-process stop.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = make(map[string]*Participant)
	t.logger.Debug().Msg("participant state reset")
}
