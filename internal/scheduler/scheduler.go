// Package scheduler sweeps the event schedule and hands due events to
// the restart machine, one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/clock"
	"github.com/derbyops/derbyops/internal/db"
	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/webhook"
)

const (
	sweepInterval = 30 * time.Second
	// dueWindow is the activation lead time: an event becomes due five
	// minutes early so the restart countdown lands on the scheduled minute.
	dueWindow = 5 * time.Minute
)

// Restarter is the slice of the restart machine the scheduler drives.
type Restarter interface {
	Initiate(ev schedule.Event, onComplete func(schedule.Event)) error
}

// History records activations; nil disables recording.
type History interface {
	InsertActivation(a *db.Activation) (int64, error)
}

// Scheduler owns the 30 s sweep loop and the activation workflow.
type Scheduler struct {
	store    *schedule.Store
	machine  Restarter
	notifier webhook.Notifier
	history  History
	clk      clock.Clock
	logger   zerolog.Logger

	mu         sync.Mutex
	processing bool
	done       chan struct{}
}

// New creates a scheduler. notifier must be non-nil (use webhook.Noop);
// history may be nil.
func New(store *schedule.Store, machine Restarter, notifier webhook.Notifier, history History, clk clock.Clock) *Scheduler {
	return &Scheduler{
		store:    store,
		machine:  machine,
		notifier: notifier,
		history:  history,
		clk:      clk,
		logger:   log.WithComponent("scheduler"),
		done:     make(chan struct{}),
	}
}

// Start reports missed events and begins the sweep loop. It returns
// immediately; the loop runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.reportMissed()
	go s.run(ctx)
}

// Done is closed once the sweep loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// reportMissed logs events whose start time passed while the supervisor
// was down. They are never activated retroactively.
func (s *Scheduler) reportMissed() {
	sched := s.store.Load()
	cutoff := s.clk.Now().Add(-dueWindow)
	for _, ev := range sched.Events {
		if !ev.IsActive && ev.StartTime.Before(cutoff) {
			s.logger.Warn().
				Int("eventId", ev.ID).
				Str("event", ev.Name).
				Time("startTime", ev.StartTime).
				Msg("missed scheduled event")
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := s.clk.NewTicker(sweepInterval)
	defer ticker.Stop()

	s.logger.Info().Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C():
			s.sweep()
		}
	}
}

// sweep reloads the schedule and activates the earliest due event, if any.
func (s *Scheduler) sweep() {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	sched := s.store.Load()
	now := s.clk.Now()
	horizon := now.Add(dueWindow)
	// Events past by more than the window were missed, not due: they are
	// reported at startup and left for operator review, never activated
	// retroactively.
	cutoff := now.Add(-dueWindow)

	var due []schedule.Event
	for _, ev := range sched.Events {
		if !ev.IsActive && !ev.StartTime.After(horizon) && !ev.StartTime.Before(cutoff) {
			due = append(due, ev)
		}
	}
	if len(due) == 0 {
		if next := nearestUpcoming(sched.Events, now); next != nil {
			s.logger.Debug().
				Int("eventId", next.ID).
				Str("event", next.Name).
				Str("eta", next.StartTime.Sub(now).Round(time.Second).String()).
				Msg("next scheduled event")
		}
		return
	}

	sort.Slice(due, func(i, j int) bool { return due[i].StartTime.Before(due[j].StartTime) })
	s.activate(due[0])
}

// ActivateNow starts the activation workflow for an event regardless of
// its start time. Used by the manual-activation API.
func (s *Scheduler) ActivateNow(id int) error {
	sched := s.store.Load()
	ev := sched.FindByID(id)
	if ev == nil {
		return fmt.Errorf("event %d: %w", id, schedule.ErrNotFound)
	}
	return s.activate(*ev)
}

func (s *Scheduler) activate(ev schedule.Event) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return fmt.Errorf("activation in progress: %w", schedule.ErrConflict)
	}
	s.processing = true
	s.mu.Unlock()

	s.logger.Info().Int("eventId", ev.ID).Str("event", ev.Name).Time("startTime", ev.StartTime).Msg("activating event")
	if err := s.machine.Initiate(ev, s.completeActivation); err != nil {
		s.logger.Warn().Err(err).Int("eventId", ev.ID).Msg("restart machine rejected activation")
		s.clearProcessing()
		return fmt.Errorf("initiate restart: %w", schedule.ErrConflict)
	}
	return nil
}

// completeActivation runs after the restart machine has brought the
// server up on the event's config.
func (s *Scheduler) completeActivation(ev schedule.Event) {
	defer s.clearProcessing()

	// Reload to absorb edits made while the restart was in flight.
	sched := s.store.Load()
	if !sched.SetActive(ev.ID) {
		s.logger.Warn().Int("eventId", ev.ID).Msg("activated event vanished from schedule")
	} else if err := s.store.Save(sched); err != nil {
		// The server is already running the event; a failed save only
		// loses the active flag.
		s.logger.Error().Err(err).Int("eventId", ev.ID).Msg("persist active flag failed")
	}

	go func() {
		_ = s.notifier.EventActivated(context.Background(), webhook.Activation{
			EventID:   ev.ID,
			EventName: ev.Name,
			Timestamp: s.clk.Now(),
		})
	}()

	if s.history != nil {
		if _, err := s.history.InsertActivation(&db.Activation{
			EventID:     ev.ID,
			EventName:   ev.Name,
			ActivatedAt: s.clk.Now(),
			Recurring:   ev.RecurringPattern != nil,
		}); err != nil {
			s.logger.Warn().Err(err).Int("eventId", ev.ID).Msg("record activation failed")
		}
	}

	if ev.RecurringPattern != nil {
		s.reschedule(sched, ev)
	}

	s.logger.Info().Int("eventId", ev.ID).Str("event", ev.Name).Msg("event activated")
}

// reschedule moves a recurring event to its next instance. The instance
// is computed from the event's own start time, not from now: activation
// begins up to dueWindow early, and recurring from "now" would hand back
// the instant that just fired, still inside the window, re-activating the
// same event on every sweep.
func (s *Scheduler) reschedule(sched *schedule.Schedule, ev schedule.Event) {
	from := s.clk.Now()
	if ev.StartTime.After(from) {
		from = ev.StartTime
	}
	next, ok := schedule.NextInstance(ev.RecurringPattern, from)
	if !ok {
		s.logger.Info().Int("eventId", ev.ID).Msg("recurring pattern expired")
		return
	}

	target := sched.FindByID(ev.ID)
	if target == nil {
		return
	}
	target.StartTime = next
	target.IsActive = false
	if target.RecurringPattern != nil && target.RecurringPattern.Occurrences != nil {
		remaining := *target.RecurringPattern.Occurrences - 1
		target.RecurringPattern.Occurrences = &remaining
	}

	if err := s.store.Save(sched); err != nil {
		s.logger.Error().Err(err).Int("eventId", ev.ID).Msg("persist rescheduled event failed")
		return
	}
	s.logger.Info().Int("eventId", ev.ID).Time("next", next).Msg("recurring event rescheduled")
}

func (s *Scheduler) clearProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func nearestUpcoming(events []schedule.Event, now time.Time) *schedule.Event {
	var next *schedule.Event
	for i := range events {
		ev := &events[i]
		if ev.IsActive || ev.StartTime.Before(now) {
			continue
		}
		if next == nil || ev.StartTime.Before(next.StartTime) {
			next = ev
		}
	}
	return next
}
