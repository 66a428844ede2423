package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/hub"
	"github.com/derbyops/derbyops/internal/log"
)

// ConsoleStream is the hub stream name carrying process output lines.
const ConsoleStream = "console"

const defaultGracePeriod = 10 * time.Second

// Options configure how the server process is launched.
type Options struct {
	Binary     string
	Args       []string
	WorkingDir string
	// GracePeriod is how long Stop waits after SIGTERM before killing.
	GracePeriod time.Duration
}

// Exec runs the server binary as a supervised subprocess. Stdout and
// stderr lines are published to the console hub stream; console commands
// are written to the process stdin.
type Exec struct {
	opts   Options
	hub    *hub.Hub
	logger zerolog.Logger

	// OnStop is called after the process exits, however it exited.
	// Used to reset per-run state such as the player tracker.
	OnStop func()

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startedAt time.Time
	waitDone  chan struct{}
}

// NewExec creates a supervisor for the given binary.
func NewExec(opts Options, h *hub.Hub) *Exec {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	return &Exec{
		opts:   opts,
		hub:    h,
		logger: log.WithComponent("supervisor"),
	}
}

// Start launches the server process. ErrAlreadyRunning if a process is
// already supervised.
func (e *Exec) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return ErrAlreadyRunning
	}

	cmd := exec.Command(e.opts.Binary, e.opts.Args...)
	cmd.Dir = e.opts.WorkingDir
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.opts.Binary, err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.startedAt = time.Now().UTC()
	e.waitDone = make(chan struct{})

	e.logger.Info().Str("binary", e.opts.Binary).Int("pid", cmd.Process.Pid).Msg("server process started")

	var scanners sync.WaitGroup
	scanners.Add(2)
	go e.streamOutput(stdout, &scanners)
	go e.streamOutput(stderr, &scanners)

	done := e.waitDone
	go func() {
		// Drain both pipes before Wait; Wait closes them and can discard
		// buffered output otherwise.
		scanners.Wait()
		err := cmd.Wait()
		if err != nil {
			e.logger.Warn().Err(err).Msg("server process exited")
		} else {
			e.logger.Info().Msg("server process exited cleanly")
		}

		e.mu.Lock()
		e.cmd = nil
		e.stdin = nil
		e.startedAt = time.Time{}
		e.waitDone = nil
		e.mu.Unlock()

		if e.OnStop != nil {
			e.OnStop()
		}
		close(done)
	}()

	return nil
}

// streamOutput publishes each line from r to the console stream.
func (e *Exec) streamOutput(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.hub.Publish(ConsoleStream, scanner.Text())
	}
}

// Stop terminates the process: SIGTERM to the process group, then
// SIGKILL after the grace period or when ctx is cancelled.
func (e *Exec) Stop(ctx context.Context) error {
	e.mu.Lock()
	cmd := e.cmd
	done := e.waitDone
	e.mu.Unlock()

	if cmd == nil {
		return ErrNotRunning
	}

	pid := cmd.Process.Pid
	e.logger.Info().Int("pid", pid).Msg("stopping server process")
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(e.opts.GracePeriod):
		e.logger.Warn().Int("pid", pid).Msg("grace period elapsed, killing server process")
	case <-ctx.Done():
		e.logger.Warn().Int("pid", pid).Msg("stop cancelled, killing server process")
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-done
	return nil
}

// Restart stops the process if running, then starts a fresh one.
func (e *Exec) Restart(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil && err != ErrNotRunning {
		return err
	}
	return e.Start(ctx)
}

// SendCommand writes one console command line to the process stdin.
func (e *Exec) SendCommand(text string) error {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()

	if stdin == nil {
		return ErrNotRunning
	}
	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		return fmt.Errorf("write console command: %w", err)
	}
	return nil
}

// Status reports the current process state.
func (e *Exec) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return Status{}
	}
	return Status{
		Running:   true,
		PID:       e.cmd.Process.Pid,
		StartedAt: e.startedAt,
	}
}
