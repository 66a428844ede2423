// Package hub fans out console output lines to SSE subscribers. Each
// named stream keeps a bounded catch-up buffer so late-joining clients
// see recent history before live lines.
package hub

import "sync"

const defaultBufferCap = 1000

// stream holds the state for one named line stream.
type stream struct {
	buf     []string // circular buffer
	pos     int      // next write position
	clients map[chan string]struct{}
	done    bool
}

// lines returns the buffered lines in order from oldest to newest.
func (s *stream) lines() []string {
	n := len(s.buf)
	if n == 0 || s.pos == 0 {
		// Buffer is empty, partially filled, or pos just wrapped to 0 —
		// in all cases buf[:n] is already in order.
		return s.buf
	}
	// Buffer has wrapped: pos points to the oldest entry.
	out := make([]string, n)
	copy(out, s.buf[s.pos:])
	copy(out[n-s.pos:], s.buf[:s.pos])
	return out
}

// append adds a line to the circular buffer. O(1) regardless of size.
func (s *stream) append(line string) {
	if len(s.buf) < cap(s.buf) {
		s.buf = append(s.buf, line)
	} else {
		s.buf[s.pos] = line
	}
	s.pos = (s.pos + 1) % cap(s.buf)
}

// Hub multiplexes named console streams to any number of subscribers.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates a Hub ready for use.
func New() *Hub {
	return &Hub{
		streams: make(map[string]*stream),
	}
}

// getOrCreate returns the stream for name, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(name string) *stream {
	s, ok := h.streams[name]
	if !ok {
		s = &stream{
			buf:     make([]string, 0, defaultBufferCap),
			clients: make(map[chan string]struct{}),
		}
		h.streams[name] = s
	}
	return s
}

// Publish sends a line to all current subscribers of the stream and
// appends it to the catch-up buffer (up to defaultBufferCap lines).
func (h *Hub) Publish(name, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(name)
	if s.done {
		return
	}

	s.append(line)

	// Fan out to all connected clients. Non-blocking send so a slow
	// consumer cannot stall publishing.
	for ch := range s.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a channel that receives future lines for the stream
// and an unsubscribe function. Buffered history is replayed immediately
// on the returned channel. If the stream is already closed, the history
// is replayed and the channel is closed.
func (h *Hub) Subscribe(name string) (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(name)

	// Buffer enough for catchup + some live headroom.
	ch := make(chan string, defaultBufferCap+64)

	for _, line := range s.lines() {
		ch <- line
	}

	if s.done {
		close(ch)
		return ch, func() {}
	}

	s.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(s.clients, ch)
	}

	return ch, unsubscribe
}

// Close marks the stream as done and closes all subscriber channels.
// Subsequent Publish calls for this stream are no-ops. New subscribers
// receive the full buffer and a closed channel.
func (h *Hub) Close(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[name]
	if !ok {
		return
	}

	s.done = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = nil
}

// Remove deletes a stream entirely, freeing its buffer memory.
// Any remaining subscribers are closed first.
func (h *Hub) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[name]
	if !ok {
		return
	}

	for ch := range s.clients {
		close(ch)
	}
	delete(h.streams, name)
}

// IsActive returns true if the stream exists and has not been closed.
func (h *Hub) IsActive(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[name]
	if !ok {
		return false
	}
	return !s.done
}
