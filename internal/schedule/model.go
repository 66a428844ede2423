// Package schedule holds the event schedule: the data model, validation,
// recurrence arithmetic, and the on-disk store.
package schedule

import "time"

// Pattern types for RecurringPattern.Type.
const (
	PatternDaily  = "Daily"
	PatternWeekly = "Weekly"
)

// Event is a scheduled server reconfiguration. IDs are assigned by the
// upstream admin and must be unique across the schedule.
type Event struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	StartTime        time.Time         `json:"startTime"`
	IsActive         bool              `json:"isActive"`
	ServerConfig     *ServerConfig     `json:"serverConfig,omitempty"`
	Tracks           []Track           `json:"tracks,omitempty"`
	CollectionName   string            `json:"collectionName,omitempty"`
	RecurringPattern *RecurringPattern `json:"recurringPattern,omitempty"`
}

// ServerConfig is a partial override bag applied when an event activates.
// Nil fields mean "leave the current value". An explicit empty Password is
// meaningful: it removes the server password.
type ServerConfig struct {
	ServerName     *string `json:"serverName,omitempty"`
	WelcomeMessage *string `json:"welcomeMessage,omitempty"`
	Password       *string `json:"password,omitempty"`
	MaxPlayers     *int    `json:"maxPlayers,omitempty"`
	Bots           *int    `json:"bots,omitempty"`
	AIDifficulty   *int    `json:"aiDifficulty,omitempty"`
	Laps           *int    `json:"laps,omitempty"`
	VehicleDamage  *string `json:"vehicleDamage,omitempty"`
	LobbyCountdown *int    `json:"lobbyCountdown,omitempty"`
}

// Track is one entry of an event's track rotation.
type Track struct {
	Track                   string  `json:"track"`
	Gamemode                *string `json:"gamemode,omitempty"`
	Laps                    *int    `json:"laps,omitempty"`
	Bots                    *int    `json:"bots,omitempty"`
	NumTeams                *int    `json:"numTeams,omitempty"`
	CarResetDisabled        *bool   `json:"carResetDisabled,omitempty"`
	WrongWayLimiterDisabled *bool   `json:"wrongWayLimiterDisabled,omitempty"`
	CarClassRestriction     *string `json:"carClassRestriction,omitempty"`
	CarRestriction          *string `json:"carRestriction,omitempty"`
	Weather                 *string `json:"weather,omitempty"`
}

// RecurringPattern describes when the next instance of an event fires.
// Time is a UTC time of day in "15:04" form. Days uses 0=Sunday..6=Saturday
// and applies to Weekly patterns only. A nil Occurrences means unbounded.
type RecurringPattern struct {
	Type        string `json:"type"`
	Days        []int  `json:"days,omitempty"`
	Time        string `json:"time"`
	Occurrences *int   `json:"occurrences,omitempty"`
}

// Schedule is the persisted document.
type Schedule struct {
	Events      []Event   `json:"events"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// FindByID returns a pointer into Events for the given id, or nil.
func (s *Schedule) FindByID(id int) *Event {
	for i := range s.Events {
		if s.Events[i].ID == id {
			return &s.Events[i]
		}
	}
	return nil
}

// ActiveEvent returns the currently active event, or nil.
func (s *Schedule) ActiveEvent() *Event {
	for i := range s.Events {
		if s.Events[i].IsActive {
			return &s.Events[i]
		}
	}
	return nil
}

// SetActive marks the event with the given id active and clears the flag
// everywhere else, keeping the single-active invariant. It reports whether
// the id was found.
func (s *Schedule) SetActive(id int) bool {
	found := false
	for i := range s.Events {
		if s.Events[i].ID == id {
			s.Events[i].IsActive = true
			found = true
		} else {
			s.Events[i].IsActive = false
		}
	}
	return found
}

// normalizeUTC shifts every start time into UTC.
func (s *Schedule) normalizeUTC() {
	for i := range s.Events {
		s.Events[i].StartTime = s.Events[i].StartTime.UTC()
	}
	s.LastUpdated = s.LastUpdated.UTC()
}
