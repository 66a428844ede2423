// Package restart implements the graceful-restart state machine that
// moves the server onto a scheduled event: warn connected players, wait
// for a lobby, restart the process, apply the event's config.
package restart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/clock"
	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/supervisor"
)

// State is the machine's current phase.
type State int

const (
	Idle State = iota
	Warning
	Pending
	Restarting
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Warning:
		return "warning"
	case Pending:
		return "pending"
	case Restarting:
		return "restarting"
	case Completed:
		return "completed"
	}
	return "unknown"
}

var (
	// ErrBusy rejects Initiate while a restart is already in flight.
	ErrBusy = errors.New("restart already in progress")
	// ErrNotCancellable rejects Cancel outside Warning and Pending.
	ErrNotCancellable = errors.New("restart not cancellable in current phase")
)

const (
	countdownMinutes  = 5
	warningTick       = time.Minute
	pendingCheck      = 30 * time.Second
	pendingCeiling    = 10 * time.Minute
	stabilizationWait = 2 * time.Second
	completedReset    = 5 * time.Second

	// DefaultChatCommand is the console command prefix for in-game chat.
	DefaultChatCommand = "/message"
)

// PlayerCounter reports connected human players.
type PlayerCounter interface {
	Count() (online, total int)
}

// Applier writes an event's server-config overrides and track list.
type Applier interface {
	Apply(ev schedule.Event) error
}

// Machine drives one restart at a time through Idle → Warning → Pending
// → Restarting → Completed. All state lives under a single mutex; chat
// messages go out without holding it.
type Machine struct {
	sup         supervisor.Controller
	players     PlayerCounter
	applier     Applier
	clk         clock.Clock
	chatCommand string
	logger      zerolog.Logger

	mu         sync.Mutex
	state      State
	event      *schedule.Event
	onComplete func(schedule.Event)
	countdown  int
	pendingAt  time.Time
	gen        int // invalidates timer callbacks from superseded phases
}

// New creates an idle machine.
func New(sup supervisor.Controller, players PlayerCounter, applier Applier, clk clock.Clock, chatCommand string) *Machine {
	if chatCommand == "" {
		chatCommand = DefaultChatCommand
	}
	return &Machine{
		sup:         sup,
		players:     players,
		applier:     applier,
		clk:         clk,
		chatCommand: chatCommand,
		logger:      log.WithComponent("restart"),
	}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initiate begins a restart for the event. Only valid from Idle. With no
// humans online the countdown is skipped entirely.
func (m *Machine) Initiate(ev schedule.Event, onComplete func(schedule.Event)) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrBusy
	}
	evCopy := ev
	m.event = &evCopy
	m.onComplete = onComplete

	online, _ := m.players.Count()
	if online == 0 {
		m.logger.Info().Int("eventId", ev.ID).Msg("no players online, restarting immediately")
		m.enterRestartingLocked("")
		return nil
	}

	m.state = Warning
	m.countdown = countdownMinutes
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info().Int("eventId", ev.ID).Str("event", ev.Name).Msg("restart countdown started")
	m.announce(fmt.Sprintf("Server will restart in %d minute(s).", countdownMinutes))
	go m.runWarning(gen)
	return nil
}

// Cancel aborts a restart during Warning or Pending.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.state != Warning && m.state != Pending {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	m.resetLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("restart cancelled")
	m.announce("Server restart cancelled.")
	return nil
}

// OnTrackChanged is the lobby signal: a track load during Pending means
// the race is over and the restart can proceed.
func (m *Machine) OnTrackChanged(trackID string, at time.Time) {
	m.mu.Lock()
	if m.state != Pending {
		m.mu.Unlock()
		return
	}
	m.logger.Info().Str("track", trackID).Msg("lobby detected, restarting")
	m.enterRestartingLocked("Server restarting now.")
}

func (m *Machine) runWarning(gen int) {
	ticker := m.clk.NewTicker(warningTick)
	defer ticker.Stop()

	for range ticker.C() {
		m.mu.Lock()
		if m.gen != gen || m.state != Warning {
			m.mu.Unlock()
			return
		}
		m.countdown--
		if m.countdown <= 0 {
			m.state = Pending
			m.pendingAt = m.clk.Now()
			m.gen++
			next := m.gen
			m.mu.Unlock()
			m.announce("Server will restart at the next lobby.")
			go m.runPending(next)
			return
		}
		n := m.countdown
		m.mu.Unlock()
		m.announce(fmt.Sprintf("Server will restart in %d minute(s).", n))
	}
}

func (m *Machine) runPending(gen int) {
	ticker := m.clk.NewTicker(pendingCheck)
	defer ticker.Stop()

	for range ticker.C() {
		m.mu.Lock()
		if m.gen != gen || m.state != Pending {
			m.mu.Unlock()
			return
		}

		if online, _ := m.players.Count(); online == 0 {
			m.logger.Info().Msg("server drained, restarting")
			m.enterRestartingLocked("")
			return
		}
		if m.clk.Now().Sub(m.pendingAt) >= pendingCeiling {
			m.logger.Warn().Msg("lobby wait ceiling reached, forcing restart")
			m.enterRestartingLocked("Server restarting now (timeout).")
			return
		}
		m.mu.Unlock()
	}
}

// enterRestartingLocked transitions to Restarting. Caller holds the
// mutex; it is released here so the announcement goes out without it.
func (m *Machine) enterRestartingLocked(message string) {
	m.state = Restarting
	m.gen++
	ev := *m.event
	onComplete := m.onComplete
	m.mu.Unlock()

	if message != "" {
		m.announce(message)
	}
	go m.runRestarting(ev, onComplete)
}

func (m *Machine) runRestarting(ev schedule.Event, onComplete func(schedule.Event)) {
	if err := m.sup.Restart(context.Background()); err != nil {
		m.logger.Error().Err(err).Int("eventId", ev.ID).Msg("server restart failed")
		m.reset()
		return
	}

	// Let the fresh process settle before touching its config.
	timer := m.clk.NewTimer(stabilizationWait)
	<-timer.C()

	if err := m.applier.Apply(ev); err != nil {
		// The process restart is the primary outcome; a config failure is
		// logged and the activation still completes.
		m.logger.Error().Err(err).Int("eventId", ev.ID).Msg("apply event config failed")
	}

	m.mu.Lock()
	m.state = Completed
	m.mu.Unlock()

	m.logger.Info().Int("eventId", ev.ID).Str("event", ev.Name).Msg("restart completed")
	if onComplete != nil {
		onComplete(ev)
	}

	timer = m.clk.NewTimer(completedReset)
	<-timer.C()
	m.reset()
}

func (m *Machine) reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

func (m *Machine) resetLocked() {
	m.state = Idle
	m.event = nil
	m.onComplete = nil
	m.countdown = 0
	m.pendingAt = time.Time{}
	m.gen++
}

// announce sends an in-game chat line. Failures are logged only; a dead
// console must not wedge the state machine.
func (m *Machine) announce(message string) {
	if err := m.sup.SendCommand(m.chatCommand + " " + message); err != nil {
		m.logger.Warn().Err(err).Str("message", message).Msg("chat announcement failed")
	}
}
