package web

import (
	"time"

	"github.com/derbyops/derbyops/internal/players"
	"github.com/derbyops/derbyops/internal/schedule"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type scheduleRequest struct {
	Events []schedule.Event `json:"events"`
}

type scheduleResponse struct {
	Events      []schedule.Event `json:"events"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

type backupResponse struct {
	Backup string `json:"backup"`
}

// eventView decorates an event with a human-readable countdown for the
// upcoming list.
type eventView struct {
	schedule.Event
	StartsIn string `json:"startsIn,omitempty"`
}

type eventSummary struct {
	Total       int       `json:"total"`
	Active      int       `json:"active"`
	Upcoming    int       `json:"upcoming"`
	Due         int       `json:"due"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type serverStatusResponse struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	RestartState string    `json:"restartState"`
	CurrentTrack string    `json:"currentTrack,omitempty"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type playersResponse struct {
	Online  int                   `json:"online"`
	Total   int                   `json:"total"`
	Players []players.Participant `json:"players"`
}

type statusResponse struct {
	Status string `json:"status"`
}
