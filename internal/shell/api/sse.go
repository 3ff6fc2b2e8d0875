package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/engine"
)

const (
	// clientBuffer is the per-client event queue. A client that falls this
	// far behind the live stream is dropped rather than backpressuring the
	// emitter.
	clientBuffer = 64

	ssePingInterval = 15 * time.Second
)

// =============================================================================
// Broadcaster
// =============================================================================

// Broadcaster fans live bus events out to streaming clients. It subscribes
// once at construction; clients attach and detach per request.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan domain.Event]struct{}
}

// NewBroadcaster subscribes to every event on the bus.
func NewBroadcaster(bus *engine.Bus, l *slog.Logger) *Broadcaster {
	if l == nil {
		l = slog.Default()
	}
	b := &Broadcaster{
		logger:  l.With("component", "broadcaster"),
		clients: make(map[chan domain.Event]struct{}),
	}
	bus.SubscribeAll(b.fanout)
	return b
}

// fanout runs on the emitter's goroutine, so delivery is strictly
// non-blocking: a full client queue means the client is too slow and gets
// cut off.
func (b *Broadcaster) fanout(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			delete(b.clients, ch)
			close(ch)
			b.logger.Warn("dropping slow stream client", "event_id", ev.ID)
		}
	}
}

// attach registers a new client queue.
func (b *Broadcaster) attach() chan domain.Event {
	ch := make(chan domain.Event, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// detach removes a client queue. Safe to call after fanout already dropped
// the client.
func (b *Broadcaster) detach(ch chan domain.Event) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// ClientCount returns the number of attached stream clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// =============================================================================
// SSE Endpoint
// =============================================================================

// handleStream serves the event log as Server-Sent Events: stored events
// after the client's cursor first, then the live feed. The cursor comes
// from ?since= or, on reconnect, the Last-Event-ID header.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}

	sinceID, err := streamCursor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid since id", "validation_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Attach before replaying so nothing emitted during the replay is
	// missed; duplicates are filtered by ID below.
	live := h.broadcaster.attach()
	defer h.broadcaster.detach(live)

	lastSent := sinceID
	err = h.engine.Bus().Replay(r.Context(), sinceID, func(ev domain.Event) {
		if writeSSE(w, ev) == nil {
			flusher.Flush()
			lastSent = ev.ID
		}
	})
	if err != nil {
		return
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-live:
			if !ok {
				return
			}
			// Skip events the replay already delivered. Unpersisted
			// events carry ID 0 and always go through.
			if ev.ID != 0 && ev.ID <= lastSent {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.ID > lastSent {
				lastSent = ev.ID
			}
		}
	}
}

// streamCursor resolves the client's resume position.
func streamCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("bad cursor %q", raw)
	}
	return id, nil
}

// writeSSE encodes one event as an SSE frame.
func writeSSE(w http.ResponseWriter, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, payload)
	return err
}
