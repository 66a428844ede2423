package web

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/derbyops/derbyops/internal/players"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/supervisor"
)

// handleIndex renders the overview dashboard: process status, player
// counts, the active event, and the next scheduled one.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	now := s.deps.Clock.Now()

	online, total := s.deps.Players.Count()
	track, _ := s.deps.Lobby.Current()

	var next *schedule.Event
	for i := range sched.Events {
		ev := &sched.Events[i]
		if ev.IsActive || ev.StartTime.Before(now) {
			continue
		}
		if next == nil || ev.StartTime.Before(next.StartTime) {
			next = ev
		}
	}

	s.render(w, "index.html", struct {
		Status       supervisor.Status
		RestartState string
		Online       int
		Total        int
		CurrentTrack string
		Active       *schedule.Event
		Next         *schedule.Event
		Players      []players.Participant
	}{
		Status:       s.deps.Supervisor.Status(),
		RestartState: s.deps.Machine.State().String(),
		Online:       online,
		Total:        total,
		CurrentTrack: track,
		Active:       sched.ActiveEvent(),
		Next:         next,
		Players:      s.deps.Players.Snapshot(),
	})
}

// handleEventsPage renders the full schedule, soonest first.
func (s *Server) handleEventsPage(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()

	events := make([]schedule.Event, len(sched.Events))
	copy(events, sched.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].StartTime.Before(events[j].StartTime) })

	s.render(w, "events.html", struct {
		Events      []schedule.Event
		LastUpdated time.Time
	}{
		Events:      events,
		LastUpdated: sched.LastUpdated,
	})
}

// handleConsolePage renders the live console view.
func (s *Server) handleConsolePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "console.html", nil)
}

// handleConsoleStream streams console lines over SSE: buffered history
// first, then live lines until the client disconnects.
func (s *Server) handleConsoleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_, _ = fmt.Fprintf(w, "retry: 5000\n\n")
	flusher.Flush()

	ch, unsubscribe := s.deps.Hub.Subscribe(supervisor.ConsoleStream)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				_, _ = fmt.Fprintf(w, "event: done\ndata: stream closed\n\n")
				flusher.Flush()
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}
