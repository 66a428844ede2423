package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/log"
)

// FileName is the normative schedule document name inside the data dir.
const FileName = "event-schedule.json"

// Store persists the schedule as a JSON document with atomic replaces.
// The store is the source of truth: the scheduler reloads it on every
// sweep to absorb upstream edits.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dataDir. The directory is created on
// first save.
func NewStore(dataDir string) *Store {
	return &Store{
		dir:    dataDir,
		logger: log.WithComponent("schedule-store"),
	}
}

// Path returns the full path of the schedule document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the schedule document. A missing or unreadable file yields an
// empty schedule; a structurally invalid document is logged and also
// yields an empty schedule. Start times are normalised to UTC.
func (s *Store) Load() *Schedule {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.Path()).Msg("schedule unreadable, starting empty")
		}
		return &Schedule{}
	}

	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		s.logger.Warn().Err(err).Str("path", s.Path()).Msg("schedule document invalid, starting empty")
		return &Schedule{}
	}
	sched.normalizeUTC()
	return &sched
}

// Save stamps lastUpdated and atomically replaces the document on disk.
func (s *Store) Save(sched *Schedule) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sched.LastUpdated = time.Now().UTC()
	sched.normalizeUTC()

	data, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("replace schedule document: %w", err)
	}
	return nil
}

// Replace validates the submitted events and saves them as the new
// schedule, returning the saved document.
func (s *Store) Replace(events []Event) (*Schedule, error) {
	if err := ValidateEvents(events); err != nil {
		return nil, err
	}
	sched := &Schedule{Events: events}
	if err := s.Save(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Backup copies the current document to a timestamped sibling and returns
// the backup path.
func (s *Store) Backup() (string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return "", fmt.Errorf("read schedule for backup: %w", err)
	}
	name := fmt.Sprintf("event-schedule.backup.%s.json", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}
