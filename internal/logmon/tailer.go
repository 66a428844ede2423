package logmon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/derbyops/derbyops/internal/log"
)

const (
	pollInterval    = 2 * time.Second
	watchDebounce   = 100 * time.Millisecond
	readLockTimeout = 50 * time.Millisecond
	maxLineBytes    = 1 << 20
)

// Tailer follows an append-only log file from a byte-offset cursor and
// publishes each complete appended line on the bus. Wake-ups come from a
// filesystem watcher on the log's directory and a periodic poll; both
// funnel into one read path guarded by a try-lock, so a slow read makes
// the other side skip its tick instead of queueing.
type Tailer struct {
	path   string
	bus    *Bus
	logger zerolog.Logger

	sem  chan struct{} // read-path try-lock
	pos  int64
	done chan struct{}
}

// NewTailer creates a tailer for the given log path.
func NewTailer(path string, bus *Bus) *Tailer {
	t := &Tailer{
		path:   path,
		bus:    bus,
		logger: log.WithComponent("tailer"),
		sem:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.sem <- struct{}{}
	return t
}

// Start seeds the cursor at the file's current length (so only fresh lines
// are observed), installs the directory watcher, and runs until ctx is
// cancelled.
func (t *Tailer) Start(ctx context.Context) error {
	if info, err := os.Stat(t.path); err == nil {
		t.pos = info.Size()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	// Watch the directory, not the file: the server may rotate or recreate
	// the log under us.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch log dir: %w", err)
	}

	t.logger.Info().Str("path", t.path).Int64("cursor", t.pos).Msg("log monitoring started")
	go t.run(ctx, watcher)
	return nil
}

// Done is closed once the tailer has fully stopped.
func (t *Tailer) Done() <-chan struct{} {
	return t.done
}

func (t *Tailer) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(t.done)
	defer watcher.Close() //nolint:errcheck

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("log monitoring stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != t.path || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			// Coalesce write bursts before reading.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, t.readPending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn().Err(err).Msg("log watcher error, poll still covers")

		case <-ticker.C:
			t.readPending()
		}
	}
}

// readPending reads every complete line appended since the cursor and
// publishes it. A held lock or any I/O error drops the tick; the next
// wake-up covers it.
func (t *Tailer) readPending() {
	select {
	case <-t.sem:
	case <-time.After(readLockTimeout):
		return
	}
	defer func() { t.sem <- struct{}{} }()

	f, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn().Err(err).Msg("open log file")
		}
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		t.logger.Warn().Err(err).Msg("stat log file")
		return
	}
	size := info.Size()
	if size < t.pos {
		t.logger.Info().Int64("cursor", t.pos).Int64("size", size).Msg("log truncated, cursor reset")
		t.pos = 0
	}
	if size == t.pos {
		return
	}

	chunk := size - t.pos
	if chunk > maxLineBytes {
		chunk = maxLineBytes
	}
	buf := make([]byte, chunk)
	n, err := f.ReadAt(buf, t.pos)
	if err != nil && n == 0 {
		t.logger.Warn().Err(err).Msg("read log file")
		return
	}
	buf = buf[:n]

	// Only consume whole lines; a partial trailing line stays for the
	// next read so it is never split across publishes.
	last := strings.LastIndexByte(string(buf), '\n')
	if last < 0 {
		return
	}
	complete := string(buf[:last+1])
	t.pos += int64(last + 1)

	for _, line := range strings.Split(complete, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		t.bus.Publish(line)
	}
}

// ResolveLogPath derives the server log path from the active server
// config's log= key, falling back to the given default when the key is
// missing or the config is unreadable. Relative log paths resolve against
// the config file's directory.
func ResolveLogPath(configPath, fallback string, readLogKey func(string) (string, error)) string {
	name, err := readLogKey(configPath)
	if err != nil || name == "" {
		return fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(configPath), name)
}
