// Package web serves the JSON control API and the dashboard.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/derbyops/derbyops/internal/clock"
	"github.com/derbyops/derbyops/internal/config"
	"github.com/derbyops/derbyops/internal/db"
	"github.com/derbyops/derbyops/internal/lobby"
	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/players"
	"github.com/derbyops/derbyops/internal/restart"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/supervisor"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// SSEHub is the slice of the console hub the web server consumes.
type SSEHub interface {
	Subscribe(name string) (<-chan string, func())
}

// Activator triggers the manual-activation workflow.
type Activator interface {
	ActivateNow(id int) error
}

// RestartMachine is the slice of the restart machine the API exposes.
type RestartMachine interface {
	State() restart.State
	Cancel() error
}

// Deps collects the server's collaborators. History may be nil; the
// history endpoints then return empty lists.
type Deps struct {
	Store      *schedule.Store
	Activator  Activator
	Machine    RestartMachine
	Supervisor supervisor.Controller
	Players    *players.Tracker
	Lobby      *lobby.Tracker
	Hub        SSEHub
	History    *db.DB
	Clock      clock.Clock
}

// Server is the HTTP server for the control API and dashboard.
type Server struct {
	cfg    config.Config
	deps   Deps
	logger zerolog.Logger

	mux    *http.ServeMux
	tmpl   *template.Template
	server *http.Server
}

// New creates a web server on the configured port.
func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("web"),
		mux:    http.NewServeMux(),
	}

	s.parseTemplates()
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests. It blocks until the server is
// shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("web server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) parseTemplates() {
	funcMap := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "--"
			}
			return t.Format("2006-01-02 15:04 UTC")
		},
		"startsIn": func(t time.Time) string {
			return humanizeUntil(t, s.deps.Clock.Now())
		},
		"stateClass": func(st string) string {
			switch st {
			case "running", "idle":
				return "status-ok"
			case "warning", "pending":
				return "status-warn"
			case "restarting":
				return "status-busy"
			default:
				return "status-muted"
			}
		},
		"renderMarkdown": func(md string) template.HTML {
			gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
			var buf bytes.Buffer
			if err := gm.Convert([]byte(md), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(md))
			}
			return template.HTML(buf.String())
		},
	}

	s.tmpl = template.Must(
		template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"),
	)
}

func (s *Server) registerRoutes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Dashboard pages.
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /events", s.handleEventsPage)
	s.mux.HandleFunc("GET /console", s.handleConsolePage)
	s.mux.HandleFunc("GET /console/stream", s.handleConsoleStream)

	// API v1.
	s.mux.HandleFunc("GET /api/v1/health", s.handleAPIHealth)

	s.mux.HandleFunc("GET /api/v1/schedule", s.handleAPIGetSchedule)
	s.mux.HandleFunc("PUT /api/v1/schedule", s.handleAPIPutSchedule)
	s.mux.HandleFunc("POST /api/v1/schedule/backup", s.handleAPIBackupSchedule)

	s.mux.HandleFunc("GET /api/v1/events/active", s.handleAPIActiveEvent)
	s.mux.HandleFunc("GET /api/v1/events/upcoming", s.handleAPIUpcomingEvents)
	s.mux.HandleFunc("GET /api/v1/events/due", s.handleAPIDueEvents)
	s.mux.HandleFunc("GET /api/v1/events/summary", s.handleAPIEventSummary)
	s.mux.HandleFunc("GET /api/v1/events/{id}", s.handleAPIGetEvent)
	s.mux.HandleFunc("POST /api/v1/events/{id}/activate", s.handleAPIActivateEvent)

	s.mux.HandleFunc("GET /api/v1/server/status", s.handleAPIServerStatus)
	s.mux.HandleFunc("POST /api/v1/server/start", s.handleAPIServerStart)
	s.mux.HandleFunc("POST /api/v1/server/stop", s.handleAPIServerStop)
	s.mux.HandleFunc("POST /api/v1/server/restart", s.handleAPIServerRestart)
	s.mux.HandleFunc("POST /api/v1/server/restart/cancel", s.handleAPICancelRestart)
	s.mux.HandleFunc("POST /api/v1/server/command", s.handleAPIServerCommand)

	s.mux.HandleFunc("GET /api/v1/players", s.handleAPIPlayers)

	s.mux.HandleFunc("GET /api/v1/history/activations", s.handleAPIHistoryActivations)
	s.mux.HandleFunc("GET /api/v1/history/restarts", s.handleAPIHistoryRestarts)
}

// render executes a content template wrapped in the layout.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("template execution failed")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	layoutData := struct {
		Page    string
		Content template.HTML
		Version string
	}{
		Page:    name,
		Content: template.HTML(buf.String()),
		Version: config.Version,
	}
	if err := s.tmpl.ExecuteTemplate(w, "layout.html", layoutData); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("layout execution failed")
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

// humanizeUntil renders the distance to a future instant ("2h 15m").
func humanizeUntil(t, now time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return "overdue"
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h >= 48:
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
