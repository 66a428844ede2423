// Package supervisor controls the dedicated server process: launch,
// graceful stop, restart, and console command passthrough over stdin.
package supervisor

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for process-control misuse.
var (
	ErrAlreadyRunning = errors.New("server process already running")
	ErrNotRunning     = errors.New("server process not running")
)

// Status is a point-in-time view of the supervised process.
type Status struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Controller is the process-control port. The restart machinery and the
// HTTP API depend on this, not on the exec implementation, so tests can
// substitute a fake.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SendCommand(text string) error
	Status() Status
}
