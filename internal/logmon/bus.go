// Package logmon tails the game server's console log and fans parsed
// events out to the rest of the control plane.
package logmon

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/log"
)

// Handlers receives typed events from the bus. Nil fields are skipped.
// Handlers run synchronously on the tailer's goroutine and must not block.
type Handlers struct {
	RawLine      func(line string)
	Join         func(name string, isBot bool)
	Leave        func(name string, isBot bool)
	Kick         func(name string, isBot bool)
	TrackLoaded  func(trackID string)
	EventStarted func()
}

type subscriber struct {
	h    Handlers
	live bool
}

// Bus multiplexes log events to subscribers. The registry is append-only:
// cancelling marks a subscriber inert but keeps its slot, so fan-out never
// races with removal.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	logger zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{logger: log.WithComponent("logbus")}
}

// Subscribe registers handlers and returns a best-effort cancel func.
func (b *Bus) Subscribe(h Handlers) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{h: h, live: true}
	b.subs = append(b.subs, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub.live = false
	}
}

// Publish parses the line and delivers RawLine plus any typed events to
// every live subscriber. Panicking subscribers are isolated and logged.
func (b *Bus) Publish(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.each(func(h Handlers) {
		if h.RawLine != nil {
			h.RawLine(line)
		}
	})

	if name, isBot, ok := parseJoin(line); ok {
		b.each(func(h Handlers) {
			if h.Join != nil {
				h.Join(name, isBot)
			}
		})
	}
	if name, isBot, ok := parseLeave(line); ok {
		b.each(func(h Handlers) {
			if h.Leave != nil {
				h.Leave(name, isBot)
			}
		})
	}
	if name, isBot, ok := parseKick(line); ok {
		b.each(func(h Handlers) {
			if h.Kick != nil {
				h.Kick(name, isBot)
			}
		})
	}
	if id, ok := parseTrackLoaded(line); ok {
		b.each(func(h Handlers) {
			if h.TrackLoaded != nil {
				h.TrackLoaded(id)
			}
		})
	}
	if parseEventStarted(line) {
		b.each(func(h Handlers) {
			if h.EventStarted != nil {
				h.EventStarted()
			}
		})
	}
}

// each invokes fn for every live subscriber, recovering panics so one bad
// handler cannot stall the pipeline. Caller holds b.mu.
func (b *Bus) each(fn func(Handlers)) {
	for _, sub := range b.subs {
		if !sub.live {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().Interface("panic", r).Msg("subscriber panicked, dropping event")
				}
			}()
			fn(sub.h)
		}()
	}
}
