package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/derbyops/derbyops/internal/clock"
	"github.com/derbyops/derbyops/internal/config"
	"github.com/derbyops/derbyops/internal/lobby"
	"github.com/derbyops/derbyops/internal/players"
	"github.com/derbyops/derbyops/internal/restart"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/supervisor"
)

type fakeActivator struct {
	mu     sync.Mutex
	called []int
	err    error
}

func (f *fakeActivator) ActivateNow(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.called = append(f.called, id)
	return nil
}

type fakeMachine struct {
	state     restart.State
	cancelErr error
}

func (f *fakeMachine) State() restart.State { return f.state }
func (f *fakeMachine) Cancel() error        { return f.cancelErr }

type fakeSupervisor struct {
	mu       sync.Mutex
	running  bool
	commands []string
}

func (f *fakeSupervisor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return supervisor.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeSupervisor) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return supervisor.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeSupervisor) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeSupervisor) SendCommand(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return supervisor.ErrNotRunning
	}
	f.commands = append(f.commands, text)
	return nil
}

func (f *fakeSupervisor) Status() supervisor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return supervisor.Status{Running: f.running, PID: 4242}
}

type testEnv struct {
	srv       *Server
	store     *schedule.Store
	activator *fakeActivator
	machine   *fakeMachine
	sup       *fakeSupervisor
	players   *players.Tracker
	clk       *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		store:     schedule.NewStore(t.TempDir()),
		activator: &fakeActivator{},
		machine:   &fakeMachine{state: restart.Idle},
		sup:       &fakeSupervisor{},
		players:   players.NewTracker(),
		clk:       clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	e.srv = New(config.Config{ListenPort: 0}, Deps{
		Store:      e.store,
		Activator:  e.activator,
		Machine:    e.machine,
		Supervisor: e.sup,
		Players:    e.players,
		Lobby:      lobby.NewTracker(),
		Clock:      e.clk,
	})
	return e
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedEvents(t *testing.T, events ...schedule.Event) {
	t.Helper()
	if err := e.store.Save(&schedule.Schedule{Events: events}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
}

func TestAPIHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.request(t, "GET", "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected application/json, got %q", ct)
	}

	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}

func TestAPIPutScheduleReplaces(t *testing.T) {
	e := newTestEnv(t)
	start := e.clk.Now().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"events":[{"id":1,"name":"Weekend","startTime":%q,"tracks":[{"track":"a"}]}]}`, start)

	w := e.request(t, "PUT", "/api/v1/schedule", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	sched := e.store.Load()
	if len(sched.Events) != 1 || sched.Events[0].Name != "Weekend" {
		t.Fatalf("schedule not replaced: %+v", sched.Events)
	}
}

func TestAPIPutScheduleValidationErrors(t *testing.T) {
	e := newTestEnv(t)
	body := `{"events":[{"id":0,"name":"","tracks":[{"track":""}],"recurringPattern":{"type":"Weekly","days":[],"time":"20:00"}}]}`

	w := e.request(t, "PUT", "/api/v1/schedule", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) < 4 {
		t.Fatalf("expected at least 4 validation messages, got %v", resp.Messages)
	}
}

func TestAPIPutScheduleRequiresJSON(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("PUT", "/api/v1/schedule", strings.NewReader("events"))
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestAPIActiveEventNotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.request(t, "GET", "/api/v1/events/active", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIActiveEvent(t *testing.T) {
	e := newTestEnv(t)
	e.seedEvents(t,
		schedule.Event{ID: 1, Name: "Weekend", StartTime: e.clk.Now().Add(-time.Hour), IsActive: true},
		schedule.Event{ID: 2, Name: "Later", StartTime: e.clk.Now().Add(time.Hour)},
	)

	w := e.request(t, "GET", "/api/v1/events/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var ev schedule.Event
	if err := json.NewDecoder(w.Body).Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ID != 1 {
		t.Fatalf("expected event 1, got %d", ev.ID)
	}
}

func TestAPIUpcomingAndDueSplit(t *testing.T) {
	e := newTestEnv(t)
	now := e.clk.Now()
	e.seedEvents(t,
		schedule.Event{ID: 1, Name: "Due", StartTime: now.Add(2 * time.Minute)},
		schedule.Event{ID: 2, Name: "Upcoming", StartTime: now.Add(time.Hour)},
		schedule.Event{ID: 3, Name: "Active", StartTime: now.Add(time.Minute), IsActive: true},
	)

	w := e.request(t, "GET", "/api/v1/events/due", "")
	var due []schedule.Event
	if err := json.NewDecoder(w.Body).Decode(&due); err != nil {
		t.Fatalf("decode due: %v", err)
	}
	if len(due) != 1 || due[0].ID != 1 {
		t.Fatalf("expected due = [1], got %+v", due)
	}

	w = e.request(t, "GET", "/api/v1/events/upcoming", "")
	var upcoming []eventView
	if err := json.NewDecoder(w.Body).Decode(&upcoming); err != nil {
		t.Fatalf("decode upcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].ID != 2 {
		t.Fatalf("expected upcoming = [2], got %+v", upcoming)
	}
	if upcoming[0].StartsIn == "" {
		t.Fatal("expected a humanized startsIn")
	}
}

func TestAPIEventSummary(t *testing.T) {
	e := newTestEnv(t)
	now := e.clk.Now()
	e.seedEvents(t,
		schedule.Event{ID: 1, Name: "Due", StartTime: now.Add(time.Minute)},
		schedule.Event{ID: 2, Name: "Up", StartTime: now.Add(time.Hour)},
		schedule.Event{ID: 3, Name: "Active", StartTime: now, IsActive: true},
	)

	w := e.request(t, "GET", "/api/v1/events/summary", "")
	var sum eventSummary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 3 || sum.Active != 1 || sum.Upcoming != 1 || sum.Due != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestAPIGetEventByID(t *testing.T) {
	e := newTestEnv(t)
	e.seedEvents(t, schedule.Event{ID: 7, Name: "Lucky", StartTime: e.clk.Now().Add(time.Hour)})

	w := e.request(t, "GET", "/api/v1/events/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = e.request(t, "GET", "/api/v1/events/99", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}

	w = e.request(t, "GET", "/api/v1/events/banana", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer id, got %d", w.Code)
	}
}

func TestAPIActivateEvent(t *testing.T) {
	e := newTestEnv(t)
	e.seedEvents(t, schedule.Event{ID: 5, Name: "Go", StartTime: e.clk.Now().Add(time.Hour)})

	w := e.request(t, "POST", "/api/v1/events/5/activate", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(e.activator.called) != 1 || e.activator.called[0] != 5 {
		t.Fatalf("expected ActivateNow(5), got %v", e.activator.called)
	}
}

func TestAPIActivateConflict(t *testing.T) {
	e := newTestEnv(t)
	e.activator.err = fmt.Errorf("activation in progress: %w", schedule.ErrConflict)

	w := e.request(t, "POST", "/api/v1/events/5/activate", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestAPIServerLifecycle(t *testing.T) {
	e := newTestEnv(t)

	w := e.request(t, "POST", "/api/v1/server/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}

	w = e.request(t, "POST", "/api/v1/server/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", w.Code)
	}

	w = e.request(t, "GET", "/api/v1/server/status", "")
	var st serverStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Running || st.RestartState != "idle" {
		t.Fatalf("unexpected status: %+v", st)
	}

	w = e.request(t, "POST", "/api/v1/server/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}

	w = e.request(t, "POST", "/api/v1/server/stop", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second stop: expected 409, got %d", w.Code)
	}
}

func TestAPIServerCommand(t *testing.T) {
	e := newTestEnv(t)
	e.sup.running = true

	w := e.request(t, "POST", "/api/v1/server/command", `{"command":"/message hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(e.sup.commands) != 1 || e.sup.commands[0] != "/message hello" {
		t.Fatalf("expected command passthrough, got %v", e.sup.commands)
	}

	w = e.request(t, "POST", "/api/v1/server/command", `{"command":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty command, got %d", w.Code)
	}
}

func TestAPICancelRestart(t *testing.T) {
	e := newTestEnv(t)

	e.machine.cancelErr = restart.ErrNotCancellable
	w := e.request(t, "POST", "/api/v1/server/restart/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when idle, got %d", w.Code)
	}

	e.machine.cancelErr = nil
	w = e.request(t, "POST", "/api/v1/server/restart/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAPIPlayers(t *testing.T) {
	e := newTestEnv(t)
	e.players.Join("alice", false)
	e.players.Join("*bot1", true)
	e.players.Join("bob", false)
	e.players.Leave("bob", false)

	w := e.request(t, "GET", "/api/v1/players", "")
	var resp playersResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Online != 1 || resp.Total != 2 {
		t.Fatalf("expected 1/2 humans, got %d/%d", resp.Online, resp.Total)
	}
	if len(resp.Players) != 2 { // alice + online bot
		t.Fatalf("expected 2 online participants, got %d", len(resp.Players))
	}
}

func TestAPIHistoryWithoutStore(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/v1/history/activations", "/api/v1/history/restarts"} {
		w := e.request(t, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Fatalf("%s: expected empty list, got %s", path, body)
		}
	}
}

func TestAPIBackupSchedule(t *testing.T) {
	e := newTestEnv(t)
	e.seedEvents(t, schedule.Event{ID: 1, Name: "Keep", StartTime: e.clk.Now().Add(time.Hour)})

	w := e.request(t, "POST", "/api/v1/schedule/backup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp backupResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Backup, "event-schedule.backup.") {
		t.Fatalf("unexpected backup path %q", resp.Backup)
	}
}

func TestDashboardPagesRender(t *testing.T) {
	e := newTestEnv(t)
	e.seedEvents(t, schedule.Event{ID: 1, Name: "Weekend", StartTime: e.clk.Now().Add(time.Hour), Description: "**big** race"})

	for _, path := range []string{"/", "/events", "/console"} {
		w := e.request(t, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "derbyops") {
			t.Fatalf("%s: layout missing", path)
		}
	}
}

func TestHumanizeUntil(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   time.Time
		want string
	}{
		{now.Add(-time.Minute), "overdue"},
		{now.Add(45 * time.Minute), "45m"},
		{now.Add(3*time.Hour + 20*time.Minute), "3h 20m"},
		{now.Add(72 * time.Hour), "3d 0h"},
	}
	for _, tc := range cases {
		if got := humanizeUntil(tc.in, now); got != tc.want {
			t.Errorf("humanizeUntil(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
