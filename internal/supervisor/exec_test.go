package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/derbyops/derbyops/internal/hub"
)

// /bin/cat echoes stdin to stdout and exits on SIGTERM, which makes it a
// convenient stand-in for the server binary.
func newCatExec(t *testing.T) (*Exec, *hub.Hub) {
	t.Helper()
	h := hub.New()
	e := NewExec(Options{
		Binary:      "/bin/cat",
		GracePeriod: 2 * time.Second,
	}, h)
	t.Cleanup(func() {
		_ = e.Stop(context.Background())
	})
	return e, h
}

func waitLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for console line")
		return ""
	}
}

func TestExecStartStatusStop(t *testing.T) {
	e, _ := newCatExec(t)
	ctx := context.Background()

	if st := e.Status(); st.Running {
		t.Fatal("fresh supervisor reports running")
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := e.Status()
	if !st.Running || st.PID <= 0 || st.StartedAt.IsZero() {
		t.Fatalf("Status after start = %+v", st)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := e.Status(); st.Running {
		t.Fatal("still running after Stop")
	}
}

func TestExecStartWhileRunning(t *testing.T) {
	e, _ := newCatExec(t)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); err != ErrAlreadyRunning {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestExecStopNotRunning(t *testing.T) {
	e, _ := newCatExec(t)
	if err := e.Stop(context.Background()); err != ErrNotRunning {
		t.Fatalf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestExecSendCommandReachesConsole(t *testing.T) {
	e, h := newCatExec(t)
	ctx := context.Background()

	ch, unsub := h.Subscribe(ConsoleStream)
	defer unsub()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.SendCommand("hello console"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	if line := waitLine(t, ch); line != "hello console" {
		t.Fatalf("console line = %q", line)
	}
}

func TestExecSendCommandNotRunning(t *testing.T) {
	e, _ := newCatExec(t)
	if err := e.SendCommand("/message hi"); err != ErrNotRunning {
		t.Fatalf("SendCommand = %v, want ErrNotRunning", err)
	}
}

func TestExecRestartReplacesProcess(t *testing.T) {
	e, _ := newCatExec(t)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := e.Status().PID

	if err := e.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	st := e.Status()
	if !st.Running {
		t.Fatal("not running after Restart")
	}
	if st.PID == first {
		t.Fatalf("Restart kept pid %d", first)
	}
}

func TestExecRestartFromStopped(t *testing.T) {
	e, _ := newCatExec(t)
	if err := e.Restart(context.Background()); err != nil {
		t.Fatalf("Restart from stopped: %v", err)
	}
	if !e.Status().Running {
		t.Fatal("not running after Restart from stopped")
	}
}

func TestExecOnStopCallback(t *testing.T) {
	e, _ := newCatExec(t)
	ctx := context.Background()

	called := make(chan struct{})
	e.OnStop = func() { close(called) }

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStop not invoked")
	}
}
