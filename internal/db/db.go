// Package db is the SQLite-backed history store: event activations,
// server restarts, and notable console events.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// Activation records one event going live on the server.
type Activation struct {
	ID          int64
	EventID     int
	EventName   string
	ActivatedAt time.Time
	Recurring   bool
}

// Restart records one pass through the restart machine.
type Restart struct {
	ID          int64
	Reason      string // scheduled, manual, api
	InitiatedAt time.Time
	CompletedAt *time.Time
	Success     bool
}

// ConsoleEvent records a typed line parsed from the server log.
type ConsoleEvent struct {
	ID         int64
	Kind       string // join, leave, kick, track_loaded, event_started
	Name       *string
	IsBot      bool
	TrackID    *string
	ObservedAt time.Time
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) migrate() error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(d.conn, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// --- Activations ---

// InsertActivation records an activation and returns its id.
func (d *DB) InsertActivation(a *Activation) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO activations (event_id, event_name, activated_at, recurring) VALUES (?, ?, ?, ?)`,
		a.EventID, a.EventName, a.ActivatedAt.UTC().Format(time.RFC3339), a.Recurring,
	)
	if err != nil {
		return 0, fmt.Errorf("insert activation: %w", err)
	}
	return res.LastInsertId()
}

// ListActivations returns the most recent activations, newest first.
func (d *DB) ListActivations(limit int) ([]Activation, error) {
	rows, err := d.conn.Query(
		`SELECT id, event_id, event_name, activated_at, recurring
		 FROM activations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Activation
	for rows.Next() {
		var a Activation
		var at string
		if err := rows.Scan(&a.ID, &a.EventID, &a.EventName, &at, &a.Recurring); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		a.ActivatedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Restarts ---

// InsertRestart records the start of a restart and returns its id.
func (d *DB) InsertRestart(r *Restart) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO restarts (reason, initiated_at, success) VALUES (?, ?, ?)`,
		r.Reason, r.InitiatedAt.UTC().Format(time.RFC3339), r.Success,
	)
	if err != nil {
		return 0, fmt.Errorf("insert restart: %w", err)
	}
	return res.LastInsertId()
}

// CompleteRestart marks a restart finished.
func (d *DB) CompleteRestart(id int64, completedAt time.Time, success bool) error {
	_, err := d.conn.Exec(
		`UPDATE restarts SET completed_at = ?, success = ? WHERE id = ?`,
		completedAt.UTC().Format(time.RFC3339), success, id,
	)
	if err != nil {
		return fmt.Errorf("complete restart %d: %w", id, err)
	}
	return nil
}

// ListRestarts returns the most recent restarts, newest first.
func (d *DB) ListRestarts(limit int) ([]Restart, error) {
	rows, err := d.conn.Query(
		`SELECT id, reason, initiated_at, completed_at, success
		 FROM restarts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list restarts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Restart
	for rows.Next() {
		var r Restart
		var initiated string
		var completed *string
		if err := rows.Scan(&r.ID, &r.Reason, &initiated, &completed, &r.Success); err != nil {
			return nil, fmt.Errorf("scan restart: %w", err)
		}
		r.InitiatedAt, _ = time.Parse(time.RFC3339, initiated)
		if completed != nil {
			t, _ := time.Parse(time.RFC3339, *completed)
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Console events ---

// InsertConsoleEvent records a parsed console event and returns its id.
func (d *DB) InsertConsoleEvent(e *ConsoleEvent) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO console_events (kind, name, is_bot, track_id, observed_at) VALUES (?, ?, ?, ?, ?)`,
		e.Kind, e.Name, e.IsBot, e.TrackID, e.ObservedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert console event: %w", err)
	}
	return res.LastInsertId()
}

// ListConsoleEvents returns the most recent console events, newest first.
func (d *DB) ListConsoleEvents(limit int) ([]ConsoleEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, kind, name, is_bot, track_id, observed_at
		 FROM console_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list console events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ConsoleEvent
	for rows.Next() {
		var e ConsoleEvent
		var at string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.IsBot, &e.TrackID, &at); err != nil {
			return nil, fmt.Errorf("scan console event: %w", err)
		}
		e.ObservedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
