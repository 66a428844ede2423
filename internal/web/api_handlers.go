package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/derbyops/derbyops/internal/config"
	"github.com/derbyops/derbyops/internal/db"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/supervisor"
)

// dueWindow mirrors the scheduler's activation lead time so the API's
// due/upcoming split matches what the sweep will do.
const dueWindow = 5 * time.Minute

// --- JSON helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("encode response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses: validation
// errors carry their per-field messages, NotFound and Conflict map to 404
// and 409, anything else is a 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if ve, ok := schedule.AsValidation(err); ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:    "invalid schedule",
			Messages: ve.Messages,
		})
		return
	}
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// requireJSON rejects requests whose body is not declared as JSON.
func (s *Server) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// parseLimit reads the limit query param, clamped to [1, 500].
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

// --- Health ---

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: config.Version})
}

// --- Schedule ---

func (s *Server) handleAPIGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Events:      sched.Events,
		LastUpdated: sched.LastUpdated,
	})
}

func (s *Server) handleAPIPutSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed schedule document: "+err.Error())
		return
	}

	sched, err := s.deps.Store.Replace(req.Events)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().Int("events", len(sched.Events)).Msg("schedule replaced")
	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Events:      sched.Events,
		LastUpdated: sched.LastUpdated,
	})
}

func (s *Server) handleAPIBackupSchedule(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Store.Backup()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, backupResponse{Backup: path})
}

// --- Events ---

func (s *Server) handleAPIActiveEvent(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	active := sched.ActiveEvent()
	if active == nil {
		s.writeError(w, http.StatusNotFound, "no active event")
		return
	}
	s.writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleAPIUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	horizon := s.deps.Clock.Now().Add(dueWindow)

	out := []eventView{}
	for _, ev := range sched.Events {
		if !ev.IsActive && ev.StartTime.After(horizon) {
			out = append(out, eventView{
				Event:    ev,
				StartsIn: humanizeUntil(ev.StartTime, s.deps.Clock.Now()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIDueEvents(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	horizon := s.deps.Clock.Now().Add(dueWindow)

	out := []schedule.Event{}
	for _, ev := range sched.Events {
		if !ev.IsActive && !ev.StartTime.After(horizon) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIEventSummary(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Store.Load()
	horizon := s.deps.Clock.Now().Add(dueWindow)

	sum := eventSummary{Total: len(sched.Events), LastUpdated: sched.LastUpdated}
	for _, ev := range sched.Events {
		switch {
		case ev.IsActive:
			sum.Active++
		case ev.StartTime.After(horizon):
			sum.Upcoming++
		default:
			sum.Due++
		}
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAPIGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}
	sched := s.deps.Store.Load()
	ev := sched.FindByID(id)
	if ev == nil {
		s.writeError(w, http.StatusNotFound, "event not found")
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAPIActivateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}
	if err := s.deps.Activator.ActivateNow(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info().Int("eventId", id).Msg("manual activation requested")
	s.writeJSON(w, http.StatusAccepted, statusResponse{Status: "activating"})
}

// --- Server process ---

func (s *Server) handleAPIServerStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Supervisor.Status()
	track, _ := s.deps.Lobby.Current()

	s.writeJSON(w, http.StatusOK, serverStatusResponse{
		Running:      st.Running,
		PID:          st.PID,
		StartedAt:    st.StartedAt,
		RestartState: s.deps.Machine.State().String(),
		CurrentTrack: track,
	})
}

func (s *Server) handleAPIServerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Supervisor.Start(r.Context()); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "started"})
}

func (s *Server) handleAPIServerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Supervisor.Stop(r.Context()); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "stopped"})
}

func (s *Server) handleAPIServerRestart(w http.ResponseWriter, r *http.Request) {
	started := s.deps.Clock.Now()
	err := s.deps.Supervisor.Restart(r.Context())
	s.recordRestart("api", started, err == nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "restarted"})
}

func (s *Server) handleAPICancelRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Machine.Cancel(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "cancelled"})
}

func (s *Server) handleAPIServerCommand(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed command: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.writeError(w, http.StatusBadRequest, "command required")
		return
	}
	if err := s.deps.Supervisor.SendCommand(req.Command); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "sent"})
}

// recordRestart persists a manual restart to the history store, when one
// is configured.
func (s *Server) recordRestart(reason string, initiated time.Time, success bool) {
	if s.deps.History == nil {
		return
	}
	id, err := s.deps.History.InsertRestart(&db.Restart{
		Reason:      reason,
		InitiatedAt: initiated,
		Success:     success,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("record restart failed")
		return
	}
	if err := s.deps.History.CompleteRestart(id, s.deps.Clock.Now(), success); err != nil {
		s.logger.Warn().Err(err).Msg("complete restart record failed")
	}
}

// --- Players ---

func (s *Server) handleAPIPlayers(w http.ResponseWriter, r *http.Request) {
	online, total := s.deps.Players.Count()
	s.writeJSON(w, http.StatusOK, playersResponse{
		Online:  online,
		Total:   total,
		Players: s.deps.Players.Snapshot(),
	})
}

// --- History ---

func (s *Server) handleAPIHistoryActivations(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeJSON(w, http.StatusOK, []db.Activation{})
		return
	}
	rows, err := s.deps.History.ListActivations(parseLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []db.Activation{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAPIHistoryRestarts(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeJSON(w, http.StatusOK, []db.Restart{})
		return
	}
	rows, err := s.deps.History.ListRestarts(parseLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []db.Restart{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}
